package presence

import "context"

// Directory records which participants are connected to some process.
type Directory interface {
	Register(ctx context.Context, userID int64) error
	Deregister(ctx context.Context, userID int64) error
	IsOnline(ctx context.Context, userID int64) (bool, error)
	StartHeartbeat(ctx context.Context) error
	StopHeartbeat()
}

// Nop is a Directory for single-process deployments. Nobody is online
// elsewhere.
type Nop struct{}

func (Nop) Register(context.Context, int64) error { return nil }
func (Nop) Deregister(context.Context, int64) error { return nil }
func (Nop) IsOnline(context.Context, int64) (bool, error) { return false, nil }
func (Nop) StartHeartbeat(context.Context) error { return nil }
func (Nop) StopHeartbeat() {}
