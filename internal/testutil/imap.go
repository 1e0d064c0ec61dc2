package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
)

// TestIMAPServer represents a test IMAP server instance.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	cleanup  func()
	username string
	password string
}

// NewTestIMAPServer creates a new test IMAP server with an in-memory backend.
// The memory backend creates a default user with username "username" and password "password".
func NewTestIMAPServer(t testing.TB) *TestIMAPServer {
	t.Helper()

	s, err := NewTestIMAPServerForE2E()
	if err != nil {
		t.Fatalf("Failed to start IMAP server: %v", err)
	}
	return s
}

// NewTestIMAPServerForE2E starts the in-memory IMAP server outside of a test, for dev servers.
func NewTestIMAPServerForE2E() (*TestIMAPServer, error) {
	be := memory.New()

	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	go func() {
		_ = s.Serve(listener)
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	return &TestIMAPServer{
		Server:   s,
		Address:  listener.Addr().String(),
		Backend:  be,
		cleanup:  func() { _ = s.Close() },
		username: "username",
		password: "password",
	}, nil
}

// Close shuts down the test IMAP server.
func (s *TestIMAPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Username returns the default test username.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the default test password.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// Connect creates a new IMAP client connection to the test server.
func (s *TestIMAPServer) Connect(t testing.TB) (*imapclient.Client, func()) {
	t.Helper()

	client, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}

	if err := client.Login(s.username, s.password); err != nil {
		_ = client.Logout()
		t.Fatalf("Failed to login: %v", err)
	}

	return client, func() { _ = client.Logout() }
}

// EnsureINBOX ensures the INBOX folder exists for the default user.
func (s *TestIMAPServer) EnsureINBOX(t testing.TB) {
	t.Helper()

	client, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := client.Select("INBOX", false); err != nil {
		if err := client.Create("INBOX"); err != nil {
			t.Fatalf("Failed to create INBOX: %v", err)
		}
	}
}

// TestMessage describes a message to seed. Zero fields get sensible defaults.
type TestMessage struct {
	MessageID  string
	InReplyTo  string
	References []string
	Subject    string
	From       string
	To         string
	SentAt     time.Time
	// Body replaces the default plain-text part. It must carry its own
	// Content-Type (and MIME-Version) headers followed by a blank line.
	Body  string
	Flags []string
}

// Raw renders the message as RFC 822 text.
func (m TestMessage) Raw() string {
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	if m.From == "" {
		m.From = "from@test.com"
	}
	if m.To == "" {
		m.To = "to@test.com"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Message-ID: %s\r\n", m.MessageID)
	fmt.Fprintf(&b, "Date: %s\r\n", m.SentAt.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	if m.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", m.InReplyTo)
	}
	if len(m.References) > 0 {
		fmt.Fprintf(&b, "References: %s\r\n", strings.Join(m.References, " "))
	}
	if m.Body == "" {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\nTest message body.\r\n")
	} else {
		b.WriteString(m.Body)
	}
	return b.String()
}

// AddMessage adds a plain test message to the specified folder and returns its UID.
func (s *TestIMAPServer) AddMessage(t testing.TB, folderName, messageID, subject, from, to string, sentAt time.Time) uint32 {
	t.Helper()
	return s.AddTestMessage(t, folderName, TestMessage{
		MessageID: messageID,
		Subject:   subject,
		From:      from,
		To:        to,
		SentAt:    sentAt,
	})
}

// AddTestMessage appends msg to the folder and returns its UID.
func (s *TestIMAPServer) AddTestMessage(t testing.TB, folderName string, msg TestMessage) uint32 {
	t.Helper()

	uid, err := s.AppendMessage(folderName, msg)
	if err != nil {
		t.Fatalf("Failed to add message: %v", err)
	}
	return uid
}

// AppendMessage appends msg to the folder and returns its UID.
func (s *TestIMAPServer) AppendMessage(folderName string, msg TestMessage) (uint32, error) {
	client, err := imapclient.Dial(s.Address)
	if err != nil {
		return 0, fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = client.Logout() }()

	if err := client.Login(s.username, s.password); err != nil {
		return 0, fmt.Errorf("failed to login: %w", err)
	}

	if _, err := client.Select(folderName, false); err != nil {
		return 0, fmt.Errorf("failed to select folder: %w", err)
	}

	flags := msg.Flags
	if flags == nil {
		flags = []string{imap.SeenFlag}
	}
	if err := client.Append(folderName, flags, time.Now(), strings.NewReader(msg.Raw())); err != nil {
		return 0, fmt.Errorf("failed to append message: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-ID", msg.MessageID)
	uids, err := client.UidSearch(criteria)
	if err != nil {
		return 0, fmt.Errorf("failed to search for message: %w", err)
	}
	if len(uids) == 0 {
		return 0, fmt.Errorf("message %s not found after append", msg.MessageID)
	}

	return uids[len(uids)-1], nil
}
