package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/dashmetrics/backend/internal/auth"
	"github.com/PortNumber53/dashmetrics/backend/internal/models"
	"github.com/PortNumber53/dashmetrics/backend/internal/store"
)

// UserSyncer defines the behaviour required from the storage client used
// by the sign-in sync handler.
type UserSyncer interface {
	UpsertFirebaseUser(ctx context.Context, user models.FirebaseUser) (*models.User, error)
}

// SyncUser creates or refreshes the local account for the Firebase
// principal on the request. An unlinked account with the same verified
// email is linked to the Firebase uid; an email owned by any other account
// is refused with 409.
func SyncUser(syncer UserSyncer, log logrus.FieldLogger) http.HandlerFunc {
	log = log.WithField("handler", "SyncUser")
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "User not authenticated")
			return
		}

		user, err := syncer.UpsertFirebaseUser(r.Context(), models.FirebaseUser{
			UID:           principal.UID,
			Email:         principal.Email,
			EmailVerified: principal.EmailVerified,
			Name:          principal.Name,
			Picture:       principal.Picture,
			Provider:      principal.Provider,
		})
		if errors.Is(err, store.ErrEmailInUse) {
			log.WithField("uid", principal.UID).Warn("SyncUser: email belongs to another account")
			writeError(w, http.StatusConflict, "Email is already linked to another account")
			return
		}
		if err != nil {
			log.WithError(err).WithField("uid", principal.UID).Error("SyncUser: failed to persist user")
			writeError(w, http.StatusBadGateway, "failed to persist user")
			return
		}

		log.WithFields(logrus.Fields{"uid": principal.UID, "user_id": user.ID}).Info("SyncUser: user synced")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": user})
	}
}
