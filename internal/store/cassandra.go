package store

import (
	"context"
	"errors"
	"fmt"

	config "example.com/tweetapp/internal/init"
	"example.com/tweetapp/internal/logger"
	"example.com/tweetapp/internal/models"
	"github.com/gocql/gocql"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/cassandra"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

var logg = logger.New()

// Sequence names used for id assignment.
const (
	UserSequence      = "user_sequence"
	TweetSequence     = "tweet_sequence"
	TweetLikeSequence = "tweet_like_sequence"
)

// ErrLikeExists is returned by SaveLike when the (user, tweet) pair is
// already liked.
var ErrLikeExists = errors.New("like already exists")

// --- Interfaces ---

type SessionInterface interface {
	Query(stmt string, values ...interface{}) *gocql.Query
	NewBatch(batchType gocql.BatchType) *gocql.Batch
	ExecuteBatch(batch *gocql.Batch) error
	Close()
}

// UserDirectory resolves login ids to users. Lookups return nil, nil when
// the user does not exist.
type UserDirectory interface {
	FindUserByLoginID(ctx context.Context, loginID string) (*models.User, error)
	CreateUser(ctx context.Context, loginID string) (*models.User, error)
}

type TweetStore interface {
	FindAllTweets(ctx context.Context) ([]models.Tweet, error)
	FindTweetsByUserID(ctx context.Context, userID int64) ([]models.Tweet, error)
	FindTweetByID(ctx context.Context, tweetID int64) (*models.Tweet, error)
	SaveTweet(ctx context.Context, tweet models.Tweet) error
	DeleteTweetByID(ctx context.Context, tweetID int64) error
}

// LikeStore keeps at most one like per (user, tweet); SaveLike reports
// ErrLikeExists instead of writing a second one.
type LikeStore interface {
	FindLikesByTweetID(ctx context.Context, tweetID int64) ([]models.Like, error)
	FindLikeByUserIDAndTweetID(ctx context.Context, userID, tweetID int64) (*models.Like, error)
	SaveLike(ctx context.Context, like models.Like) error
	DeleteLikeByID(ctx context.Context, likeID int64) error
}

// SequenceGenerator hands out strictly increasing ids per sequence name.
type SequenceGenerator interface {
	NextSequence(ctx context.Context, name string) (int64, error)
}

type StoreInterface interface {
	UserDirectory
	TweetStore
	LikeStore
	SequenceGenerator
	Close()
}

// --- Store Implementation ---

type Store struct {
	Session SessionInterface
}

// New initializes Cassandra connection using config package.
func New() (StoreInterface, error) {
	cfg := config.Get()

	if err := ensureKeyspace(cfg); err != nil {
		return nil, fmt.Errorf("failed to ensure keyspace: %w", err)
	}

	if err := runMigrations(cfg); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	cluster := newCluster(cfg)
	cluster.Keyspace = cfg.CassandraKeyspace
	cluster.Consistency = gocql.Quorum
	cluster.SerialConsistency = gocql.LocalSerial

	sess, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}

	logg.Info("store", "Connected to Cassandra keyspace (host anonymized)")
	return &Store{Session: sess}, nil
}

func newCluster(cfg *config.Config) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.CassandraHost)
	cluster.Timeout = cfg.CassandraTimeout
	cluster.ConnectTimeout = cfg.CassandraTimeout

	if cfg.CassandraUsername != "" && cfg.CassandraPassword != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.CassandraUsername,
			Password: cfg.CassandraPassword,
		}
	}

	if cfg.CassandraDC != "" {
		cluster.PoolConfig.HostSelectionPolicy = gocql.DCAwareRoundRobinPolicy(cfg.CassandraDC)
		cluster.HostFilter = gocql.DataCentreHostFilter(cfg.CassandraDC)
	}
	return cluster
}

// --- Ensure keyspace exists before migrations ---

func ensureKeyspace(cfg *config.Config) error {
	cluster := newCluster(cfg)
	cluster.Keyspace = "system"
	sess, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("failed to connect to Cassandra system keyspace: %w", err)
	}
	defer sess.Close()

	query := fmt.Sprintf(`
        CREATE KEYSPACE IF NOT EXISTS %s
        WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1};
    `, cfg.CassandraKeyspace)

	if err := sess.Query(query).Exec(); err != nil {
		return fmt.Errorf("failed to create keyspace: %w", err)
	}

	logg.Info("store", "Ensured Cassandra keyspace exists (keyspace name anonymized)")
	return nil
}

// --- Migration runner ---

func runMigrations(cfg *config.Config) error {
	sourceURL := fmt.Sprintf("file://%s", cfg.MigrationsPath)
	dbURL := fmt.Sprintf(
		"cassandra://%s/%s?x-migrations-table=schema_migrations&x-multi-statement=true",
		cfg.CassandraHost, cfg.CassandraKeyspace,
	)

	m, err := migrate.New(sourceURL, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logg.Info("store", "No new migrations to apply")
	} else {
		logg.Info("store", "Migrations applied successfully")
	}
	return nil
}

// Close gracefully closes Cassandra session.
func (s *Store) Close() {
	if s.Session != nil {
		s.Session.Close()
		logg.Info("store", "Cassandra session closed")
	}
}
