package model

import "time"

// Booking, RecurringSchedule, Trip and TripPassenger are display shapes for
// the dashboards. Nothing persists or mutates them.

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

type Booking struct {
	ID              string        `json:"id"`
	UserID          string        `json:"userId"`
	PickupLocation  string        `json:"pickupLocation"`
	DropoffLocation string        `json:"dropoffLocation"`
	PickupTime      time.Time     `json:"pickupTime"`
	Passengers      int           `json:"passengers"`
	Status          BookingStatus `json:"status"`
	Fare            float64       `json:"fare"`
	CreatedAt       time.Time     `json:"createdAt"`
}

type RecurringSchedule struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	PickupLocation  string     `json:"pickupLocation"`
	DropoffLocation string     `json:"dropoffLocation"`
	PickupClock     string     `json:"pickupTime"`
	DaysOfWeek      []int      `json:"daysOfWeek"`
	Active          bool       `json:"isActive"`
	StartsOn        time.Time  `json:"startDate"`
	EndsOn          *time.Time `json:"endDate,omitempty"`
}

type TripStatus string

const (
	TripScheduled  TripStatus = "scheduled"
	TripInProgress TripStatus = "in_progress"
	TripCompleted  TripStatus = "completed"
	TripCancelled  TripStatus = "cancelled"
)

type Trip struct {
	ID          string          `json:"id"`
	DriverID    string          `json:"driverId"`
	VehicleID   string          `json:"vehicleId"`
	RouteName   string          `json:"routeName"`
	DepartureAt time.Time       `json:"departureTime"`
	ArrivalAt   time.Time       `json:"estimatedArrival"`
	Status      TripStatus      `json:"status"`
	Passengers  []TripPassenger `json:"passengers"`
}

type TripPassenger struct {
	BookingID  string `json:"bookingId"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	PickedUp   bool   `json:"pickedUp"`
	DroppedOff bool   `json:"droppedOff"`
}
