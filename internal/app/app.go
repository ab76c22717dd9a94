package app

import (
	"github.com/crisisconnect/crisis-api/internal/sdk/store"
	"github.com/crisisconnect/crisis-api/internal/services/mailer"
	"github.com/crisisconnect/crisis-api/internal/services/sentry"
	"github.com/crisisconnect/crisis-api/internal/services/token"
)

type App struct {
	db        store.Store
	sentry    *sentry.SentryService
	tokens    *token.Service
	mailer    mailer.Sender
	uploadDir string

	// seedAdminEmail grants the admin role at signup time to one
	// configured address. Further admins are promoted through the grant
	// endpoint.
	seedAdminEmail string
}

func NewApp(
	db store.Store,
	sentry *sentry.SentryService,
	tokens *token.Service,
	mailer mailer.Sender,
	uploadDir string,
	seedAdminEmail string,
) *App {
	return &App{
		db:             db,
		sentry:         sentry,
		tokens:         tokens,
		mailer:         mailer,
		uploadDir:      uploadDir,
		seedAdminEmail: seedAdminEmail,
	}
}
