package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/emak3/sekigae/internal/room"
)

type Msg interface{ isRegistryMsg() }

// EnsureRoom creates the room on first use and returns it.
type EnsureRoom struct {
	ID    string
	Reply chan *room.Room
}

// GetRoom replies with the room or nil.
type GetRoom struct {
	ID    string
	Reply chan *room.Room
}

type RemoveRoom struct{ ID string }

// Disconnect fans a departing client out to every room so holds never
// outlive their owner's connection.
type Disconnect struct{ ClientID string }

type Shutdown struct{}

func (EnsureRoom) isRegistryMsg() {}
func (GetRoom) isRegistryMsg()    {}
func (RemoveRoom) isRegistryMsg() {}
func (Disconnect) isRegistryMsg() {}
func (Shutdown) isRegistryMsg()   {}

// Options tune the registry. Zero values get defaults.
type Options struct {
	HoldTTL       time.Duration
	IdleTTL       time.Duration
	SweepInterval time.Duration
	Logger        *zap.Logger
}

const (
	defaultIdleTTL       = 24 * time.Hour
	defaultSweepInterval = time.Hour
)

// Registry owns the id-to-room map. A single goroutine consumes the inbox
// and runs the idle sweep, so creation, lookup, and eviction are
// serialized: a join can never race the sweep, and an evicted id is simply
// recreated fresh on the next EnsureRoom.
type Registry struct {
	inbox  chan Msg
	rooms  map[string]*room.Room
	opts   Options
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRegistry(parent context.Context, opts Options) *Registry {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	reg := &Registry{
		inbox:  make(chan Msg, 64),
		rooms:  make(map[string]*room.Room),
		opts:   opts,
		log:    opts.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
	go reg.loop()
	return reg
}

// Send delivers a message unless the registry has shut down.
func (reg *Registry) Send(m Msg) bool {
	select {
	case reg.inbox <- m:
		return true
	case <-reg.ctx.Done():
		return false
	}
}

// Ensure is the blocking convenience wrapper handlers use.
func (reg *Registry) Ensure(id string) *room.Room {
	reply := make(chan *room.Room, 1)
	if !reg.Send(EnsureRoom{ID: id, Reply: reply}) {
		return nil
	}
	select {
	case rm := <-reply:
		return rm
	case <-reg.ctx.Done():
		return nil
	}
}

func (reg *Registry) loop() {
	ticker := time.NewTicker(reg.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-reg.ctx.Done():
			reg.shutdown()
			return

		case <-ticker.C:
			reg.sweep()

		case m := <-reg.inbox:
			switch msg := m.(type) {
			case EnsureRoom:
				rm := reg.rooms[msg.ID]
				if rm == nil {
					rm = room.NewRoom(reg.ctx, msg.ID, room.Options{
						HoldTTL: reg.opts.HoldTTL,
						Logger:  reg.log,
					})
					reg.rooms[msg.ID] = rm
					reg.log.Info("room created", zap.String("room", msg.ID))
				}
				msg.Reply <- rm

			case GetRoom:
				msg.Reply <- reg.rooms[msg.ID]

			case RemoveRoom:
				if rm := reg.rooms[msg.ID]; rm != nil {
					rm.Send(room.Shutdown{})
					delete(reg.rooms, msg.ID)
				}

			case Disconnect:
				for _, rm := range reg.rooms {
					rm.Send(room.ReleaseHolder{ClientID: msg.ClientID})
				}

			case Shutdown:
				reg.shutdown()
				return
			}
		}
	}
}

// sweep evicts rooms idle past IdleTTL with nobody connected. The idle
// check runs inside the room's own loop, so any queued mutation counts
// before the verdict.
func (reg *Registry) sweep() {
	cutoff := time.Now().Add(-reg.opts.IdleTTL).UnixMilli()
	for id, rm := range reg.rooms {
		reply := make(chan bool, 1)
		if !rm.Send(room.IdleCheck{Cutoff: cutoff, Reply: reply}) {
			delete(reg.rooms, id)
			continue
		}
		if <-reply {
			reg.log.Info("evicting idle room", zap.String("room", id))
			rm.Send(room.Shutdown{})
			delete(reg.rooms, id)
		}
	}
}

func (reg *Registry) shutdown() {
	for id, rm := range reg.rooms {
		rm.Send(room.Shutdown{})
		delete(reg.rooms, id)
	}
	reg.cancel()
}
