package store

type NotificationDelivery struct {
	ID             string
	RestaurantID   string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Payload        []byte
	Status         string
	Attempts       int
}
