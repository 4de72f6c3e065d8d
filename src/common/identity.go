package common

import (
	"context"
	"errors"
	"log"

	"quickshow/src/db"
	"quickshow/src/models"
	"quickshow/src/types"
	"quickshow/src/workflow"

	"gorm.io/gorm/clause"
)

func userFromPayload(data types.JSONB) (*models.User, error) {
	id, ok := payloadString(data, "id")
	if !ok || id == "" {
		return nil, errors.New("identity event payload has no id")
	}
	user := models.User{ID: id}
	if name, ok := payloadString(data, "name"); ok {
		user.Name = name
	}
	if email, ok := payloadString(data, "email"); ok {
		user.Email = email
	}
	if image, ok := payloadString(data, "image"); ok {
		user.Image = image
	}
	return &user, nil
}

// SyncUserCreated mirrors a provider-created user into the local store. An
// upsert keeps duplicate deliveries harmless.
func SyncUserCreated(ctx context.Context, ev *workflow.Event, step *workflow.Step) error {
	user, err := userFromPayload(ev.Data)
	if err != nil {
		log.Printf("[identity] Dropping malformed event %s: %s\n", ev.Name, err.Error())
		return nil
	}
	gdb := db.GetDb()
	if err := gdb.
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(user).
		Error; err != nil {
		return err
	}
	log.Printf("[identity] Synced created user %s\n", user.ID)
	return nil
}

func SyncUserUpdated(ctx context.Context, ev *workflow.Event, step *workflow.Step) error {
	user, err := userFromPayload(ev.Data)
	if err != nil {
		log.Printf("[identity] Dropping malformed event %s: %s\n", ev.Name, err.Error())
		return nil
	}
	gdb := db.GetDb()
	if err := gdb.
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(user).
		Error; err != nil {
		return err
	}
	log.Printf("[identity] Synced updated user %s\n", user.ID)
	return nil
}

func SyncUserDeleted(ctx context.Context, ev *workflow.Event, step *workflow.Step) error {
	id, ok := payloadString(ev.Data, "id")
	if !ok || id == "" {
		log.Printf("[identity] Dropping malformed event %s: no id\n", ev.Name)
		return nil
	}
	gdb := db.GetDb()
	if err := gdb.
		Unscoped().
		Delete(&models.User{}, "id = ?", id).
		Error; err != nil {
		return err
	}
	log.Printf("[identity] Deleted user %s\n", id)
	return nil
}
