// services/interfaces.go
package services

// Notifier is the broadcast-capable dependency handed to the services so
// they never touch a process-wide socket handle.
type Notifier interface {
	BroadcastToRoom(roomID string, msgID uint16, data []byte) error
	BroadcastToAll(msgID uint16, data []byte) error
	SendToUser(userID int64, msgID uint16, data []byte) error
}

// NopNotifier discards every event. Used where no realtime layer is wired.
type NopNotifier struct{}

func (NopNotifier) BroadcastToRoom(string, uint16, []byte) error { return nil }
func (NopNotifier) BroadcastToAll(uint16, []byte) error          { return nil }
func (NopNotifier) SendToUser(int64, uint16, []byte) error       { return nil }
