// Package journal records relayed exchanges so a conversation can be resumed
// after its session has been evicted or the process restarted.
package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Protocol-Lattice/fingpt-relay/src/models"
)

// Exchange is one user message and the model's reply.
type Exchange struct {
	ID             string    `json:"id" bson:"_id"`
	ConversationID string    `json:"conversation_id" bson:"conversation_id"`
	UserText       string    `json:"user_text" bson:"user_text"`
	Attachments    []string  `json:"attachments,omitempty" bson:"attachments,omitempty"`
	Reply          string    `json:"reply" bson:"reply"`
	Document       string    `json:"document,omitempty" bson:"document,omitempty"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
}

// Journal stores exchanges per conversation.
type Journal interface {
	Record(ctx context.Context, ex Exchange) error
	// Recent returns up to limit exchanges, oldest first.
	Recent(ctx context.Context, conversationID string, limit int) ([]Exchange, error)
	Close() error
}

// Options selects and configures a journal driver.
type Options struct {
	Driver     string
	DSN        string
	Database   string
	Collection string
	// MaxPerConversation caps entries kept by the memory and redis drivers.
	MaxPerConversation int
}

// Open returns the journal named by opts.Driver.
func Open(ctx context.Context, opts Options) (Journal, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", "none", "nop":
		return Nop{}, nil
	case "memory":
		return NewMemory(opts.MaxPerConversation), nil
	case "postgres", "postgresql", "pg":
		j, err := NewPostgres(ctx, opts.DSN, opts.Collection)
		if err != nil {
			return nil, err
		}
		if err := j.CreateSchema(ctx); err != nil {
			_ = j.Close()
			return nil, err
		}
		return j, nil
	case "mongo", "mongodb":
		return NewMongo(ctx, opts.DSN, opts.Database, opts.Collection)
	case "redis":
		return NewRedis(ctx, opts.DSN, opts.MaxPerConversation)
	default:
		return nil, fmt.Errorf("journal: unknown driver %q", opts.Driver)
	}
}

// Stamp fills in the ID and timestamp of ex when they are unset.
func Stamp(ex Exchange) Exchange {
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}
	return ex
}

// Turns flattens exchanges into alternating user/model turns. Exchanges
// with attachments only are described by their file names.
func Turns(exchanges []Exchange) []models.Turn {
	turns := make([]models.Turn, 0, len(exchanges)*2)
	for _, ex := range exchanges {
		user := ex.UserText
		if len(ex.Attachments) > 0 {
			note := "[attached: " + strings.Join(ex.Attachments, ", ") + "]"
			if user == "" {
				user = note
			} else {
				user += "\n" + note
			}
		}
		turns = append(turns,
			models.Turn{Role: models.RoleUser, Text: user},
			models.Turn{Role: models.RoleModel, Text: ex.Reply},
		)
	}
	return turns
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(context.Context, Exchange) error { return nil }
func (Nop) Recent(context.Context, string, int) ([]Exchange, error) {
	return nil, nil
}
func (Nop) Close() error { return nil }

var (
	_ Journal = Nop{}
	_ Journal = (*Memory)(nil)
	_ Journal = (*Postgres)(nil)
	_ Journal = (*Mongo)(nil)
	_ Journal = (*Redis)(nil)
)
