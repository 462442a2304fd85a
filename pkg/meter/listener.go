package meter

import "github.com/NotCoffee418/obis_meter_reader/pkg/types"

// Listener receives the outcome of decode cycles. Calls come from the
// device goroutine and should return quickly.
type Listener interface {
	ValueAdded(deviceID string, v types.MeterValue)
	ValueChanged(deviceID string, v types.MeterValue)
	ValueRemoved(deviceID string, v types.MeterValue)
	ErrorOccurred(deviceID string, err error)
}

// StatusListener is optionally implemented by a Listener to follow status
// transitions.
type StatusListener interface {
	StatusChanged(deviceID string, status Status)
}

// Listeners fans out to several listeners in order.
type Listeners []Listener

func (ls Listeners) ValueAdded(id string, v types.MeterValue) {
	for _, l := range ls {
		l.ValueAdded(id, v)
	}
}

func (ls Listeners) ValueChanged(id string, v types.MeterValue) {
	for _, l := range ls {
		l.ValueChanged(id, v)
	}
}

func (ls Listeners) ValueRemoved(id string, v types.MeterValue) {
	for _, l := range ls {
		l.ValueRemoved(id, v)
	}
}

func (ls Listeners) ErrorOccurred(id string, err error) {
	for _, l := range ls {
		l.ErrorOccurred(id, err)
	}
}

func (ls Listeners) StatusChanged(id string, status Status) {
	for _, l := range ls {
		if sl, ok := l.(StatusListener); ok {
			sl.StatusChanged(id, status)
		}
	}
}

// Dispatch delivers cycle events to l.
func Dispatch(l Listener, deviceID string, events []Event) {
	for _, e := range events {
		switch e.Kind {
		case EventAdded:
			l.ValueAdded(deviceID, e.Value)
		case EventChanged:
			l.ValueChanged(deviceID, e.Value)
		case EventRemoved:
			l.ValueRemoved(deviceID, e.Value)
		}
	}
}
