package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vdavid/threadview/internal/config"
	"github.com/vdavid/threadview/internal/db"
	"github.com/vdavid/threadview/internal/server"
	"github.com/vdavid/threadview/internal/testutil"
)

// rootMessageID is the Message-ID of the seeded thread's first message.
const rootMessageID = "<thread-root@test>"

func main() {
	ctx := context.Background()

	// Start Postgres database
	postgresContainer, connStr, err := startPostgres(ctx)
	if err != nil {
		log.Fatalf("Failed to start Postgres: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate Postgres container: %v", err)
		}
	}()

	// Start test mail server
	log.Println("Starting test IMAP server...")
	imapServer, err := testutil.NewTestIMAPServerForE2E()
	if err != nil {
		log.Printf("Failed to start test IMAP server: %v", err)
		return
	}
	defer imapServer.Close()
	log.Printf("Test IMAP server started on %s", imapServer.Address)

	if err := seedTestData(imapServer); err != nil {
		log.Printf("Failed to seed test data: %v", err)
		return
	}

	pool, err := setupDatabase(ctx, connStr)
	if err != nil {
		log.Printf("Failed to setup database: %v", err)
		return
	}
	defer pool.Close()

	cfg := &config.Config{
		Environment:    "test",
		APIToken:       getEnvOrDefault("THREADVIEW_API_TOKEN", "test-token"),
		IMAPServer:     imapServer.Address,
		IMAPUsername:   imapServer.Username(),
		IMAPPassword:   imapServer.Password(),
		IMAPUseTLS:     false,
		PreferPlain:    os.Getenv("THREADVIEW_PREFER_PLAIN") == "true",
		MaxSubscribers: 10,
		Port:           getEnvOrDefault("PORT", "8080"),
	}
	if err := cfg.Validate(); err != nil {
		log.Printf("Invalid test config: %v", err)
		return
	}

	srv := server.New(cfg, db.NewViewStateStore(pool), nil)
	address := ":" + cfg.Port

	log.Printf("threadview test server starting on %s", address)
	log.Printf("Test IMAP server: %s (username: %s, password: %s)", imapServer.Address, imapServer.Username(), imapServer.Password())
	log.Printf(`Open the seeded thread: curl -X POST -H "Authorization: Bearer %s" -d '{"thread_key": "demo", "message_id": "%s"}' localhost%s/api/v1/views`, cfg.APIToken, rootMessageID, address)
	log.Println("Server ready. Press Ctrl+C to stop.")

	if err := server.Run(address, srv); err != nil {
		log.Printf("Server error: %v", err)
	}
}

// startPostgres starts a test Postgres database using testcontainers.
func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	log.Println("Starting test Postgres database...")
	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("threadview_test"),
		postgres.WithUsername("threadview"),
		postgres.WithPassword("threadview"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start Postgres container: %w", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get connection string: %w", err)
	}

	log.Println("Test Postgres database started")
	return postgresContainer, connStr, nil
}

// setupDatabase creates a database connection pool and runs migrations.
func setupDatabase(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("Successfully connected to database and ran migrations")
	return pool, nil
}

// seedTestData appends a small thread: a plain root, an HTML reply with an
// attachment, and a patch that replies to both.
func seedTestData(imapServer *testutil.TestIMAPServer) error {
	now := time.Now()
	messages := []testutil.TestMessage{
		{
			MessageID: rootMessageID,
			Subject:   "Release planning",
			From:      "Alice <alice@example.com>",
			To:        "team@example.com",
			SentAt:    now.Add(-3 * time.Hour),
		},
		{
			MessageID:  "<thread-reply@test>",
			InReplyTo:  rootMessageID,
			References: []string{rootMessageID},
			Subject:    "Re: Release planning",
			From:       "Bob <bob@example.com>",
			To:         "team@example.com",
			SentAt:     now.Add(-2 * time.Hour),
			Body:       htmlWithAttachment,
			Flags:      []string{`\Flagged`},
		},
		{
			MessageID:  "<thread-patch@test>",
			InReplyTo:  "<thread-reply@test>",
			References: []string{rootMessageID, "<thread-reply@test>"},
			Subject:    "[PATCH] Bump version",
			From:       "Carol <carol@example.com>",
			To:         "team@example.com",
			SentAt:     now.Add(-1 * time.Hour),
		},
	}

	for _, msg := range messages {
		if _, err := imapServer.AppendMessage("INBOX", msg); err != nil {
			return fmt.Errorf("failed to add message %s: %w", msg.MessageID, err)
		}
	}

	log.Printf("Seeded a thread of %d messages", len(messages))
	return nil
}

const htmlWithAttachment = "MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=\"inner\"\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Sounds good, notes attached.\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Sounds <b>good</b>, notes attached.</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: text/plain; name=\"notes.txt\"\r\n" +
	"Content-Disposition: attachment; filename=\"notes.txt\"\r\n" +
	"\r\n" +
	"ship it\r\n" +
	"--outer--\r\n"

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
