package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/LukasParke/callkit/docstore"
	"github.com/LukasParke/callkit/serializer"
)

// StoreDirectory keeps users in a docstore collection keyed by uid.
type StoreDirectory struct {
	users docstore.Typed[User]
	// serializes lookup-then-create so one number maps to one user
	mu sync.Mutex
}

// NewStoreDirectory returns a directory over the users collection of store.
func NewStoreDirectory(store *docstore.Store) *StoreDirectory {
	return &StoreDirectory{users: docstore.NewTyped[User](store.Collection("users"))}
}

// GetUserByPhoneNumber implements Directory.
func (d *StoreDirectory) GetUserByPhoneNumber(ctx context.Context, phone string) (*User, error) {
	found, err := d.users.Query(ctx, d.users.Ref.Where("phoneNumber", docstore.OpEqual, phone).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, phone)
	}
	return &found[0], nil
}

// GetUser returns the user with uid.
func (d *StoreDirectory) GetUser(ctx context.Context, uid string) (*User, error) {
	u, ok, err := d.users.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, uid)
	}
	return &u, nil
}

// CreateUser implements Directory. Creating a user for a number that is
// already registered returns the existing user.
func (d *StoreDirectory) CreateUser(ctx context.Context, phone string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, err := d.GetUserByPhoneNumber(ctx, phone); err == nil {
		return u, nil
	}
	u := User{
		UID:         uuid.Must(uuid.NewV7()).String(),
		PhoneNumber: phone,
		CreatedAt:   serializer.Now(),
	}
	if err := d.users.Set(ctx, u.UID, u); err != nil {
		return nil, err
	}
	return &u, nil
}
