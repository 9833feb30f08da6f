// Package db keeps the automation state in SurrealDB. The connection
// re-dials on its own when the server goes away.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// wss upgrades fail when TLS negotiates h2
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

const (
	dialTimeout     = 5 * time.Second
	reconnectFloor  = time.Second
	reconnectCeil   = 30 * time.Second
	reconnectTries  = 10
	databaseAuthLvl = "database"
)

// Config describes where the state database lives and how to sign in.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	// AuthLevel is "root" (default) or "database".
	AuthLevel string
}

type wsConn = rews.Connection[*gorillaws.Connection]

// Client is a signed-in connection scoped to one namespace and database
// with the state table defined.
type Client struct {
	conn *wsConn
	db   *surrealdb.DB
	log  logger.Logger
}

// NewClient dials cfg.URL, signs in, selects the namespace and database and
// defines the state table.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	sdkLog := logger.New(log.Handler())

	conn := dial(cfg.URL, sdkLog)
	sdkLog.Info("connecting to state database", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URL, err)
	}

	c := &Client{conn: conn, log: sdkLog}
	if err := c.setup(ctx, cfg); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}

	sdkLog.Info("state database ready", "namespace", cfg.Namespace, "database", cfg.Database)
	return c, nil
}

// dial builds the reconnecting websocket connection. gorillaws appends
// /rpc to the base URL itself.
func dial(url string, log logger.Logger) *wsConn {
	codec := surrealcbor.New()
	base := strings.TrimSuffix(strings.TrimSuffix(url, "/"), "/rpc")

	conn := rews.New(
		func(context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     base,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      log,
			}), nil
		},
		dialTimeout,
		codec,
		log,
	)

	retry := rews.NewExponentialBackoffRetryer()
	retry.InitialDelay = reconnectFloor
	retry.MaxDelay = reconnectCeil
	retry.Multiplier = 2
	retry.MaxRetries = reconnectTries
	conn.Retryer = retry
	return conn
}

func (c *Client) setup(ctx context.Context, cfg Config) error {
	db, err := surrealdb.FromConnection(ctx, c.conn)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	auth := surrealdb.Auth{Username: cfg.Username, Password: cfg.Password}
	if cfg.AuthLevel == databaseAuthLvl {
		auth.Namespace, auth.Database = cfg.Namespace, cfg.Database
	}
	if _, err := db.SignIn(ctx, auth); err != nil {
		return fmt.Errorf("sign in as %s: %w", cfg.Username, err)
	}
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		return fmt.Errorf("use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}
	c.db = db

	if _, err := surrealdb.Query[any](ctx, db, SchemaSQL, nil); err != nil {
		return fmt.Errorf("define state table: %w", wrapQueryError(err))
	}
	return nil
}

// Close hangs up. The connection does not re-dial afterwards.
func (c *Client) Close(ctx context.Context) error {
	c.log.Info("closing state database connection")
	return c.conn.Close(ctx)
}
