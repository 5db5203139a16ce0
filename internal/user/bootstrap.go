package user

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/modelzoo/modelzoo/internal/config"
	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/pkg/model"
)

// EnsureSuperuser creates the configured first admin account. An existing account with the same
// id is left untouched.
func EnsureSuperuser(ctx context.Context, store Store, cfg config.AuthConfig) error {
	if cfg.FirstSuperuserID == "" || cfg.FirstSuperuserPassword == "" {
		log.Info("no root user configured")
		return nil
	}

	root := &model.User{
		UserID:    cfg.FirstSuperuserID,
		Name:      cfg.FirstSuperuserName,
		AdminPriv: true,
	}
	if err := root.UpdatePasswordHash(cfg.FirstSuperuserPassword); err != nil {
		return errors.Wrap(err, "hashing root password")
	}

	switch err := store.Add(ctx, root); {
	case errors.Is(err, db.ErrDuplicateRecord):
		log.Infof("root user %s already exists", root.UserID)
	case err != nil:
		return errors.Wrap(err, "creating root user")
	default:
		log.Infof("created root user %s", root.UserID)
	}
	return nil
}
