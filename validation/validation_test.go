package validation

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEmail(t *testing.T) {
	valid := []string{"alice@example.com", "a.b+c@sub.example.org"}
	invalid := []string{"", "alice", "alice@", "@example.com", "alice@example", "al ice@example.com"}

	for _, email := range valid {
		assert.NoError(t, ValidateEmail(email), email)
	}
	for _, email := range invalid {
		assert.ErrorIs(t, ValidateEmail(email), ErrInvalidInput, email)
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
	assert.Equal(t, "example.com", EmailDomain("alice@example.com"))
	assert.Equal(t, "", EmailDomain("alice"))
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, ValidatePassword("password1"))
	assert.ErrorIs(t, ValidatePassword("pass1"), ErrWeakPassword)
	assert.ErrorIs(t, ValidatePassword("passwordonly"), ErrWeakPassword)

	assert.NoError(t, ValidateNewPassword("password1", "password1"))
	assert.ErrorIs(t, ValidateNewPassword("password1", "password2"), ErrPasswordMismatch)
	assert.ErrorIs(t, ValidateNewPassword("short", "short"), ErrWeakPassword)
}

func TestValidateUsername(t *testing.T) {
	assert.NoError(t, ValidateUsername("bob"))
	assert.ErrorIs(t, ValidateUsername("bo"), ErrInvalidUsername)
	assert.ErrorIs(t, ValidateUsername("  b  "), ErrInvalidInput)
}

func startDNSServer(t *testing.T) string {
	t.Helper()

	mux := dns.NewServeMux()
	mux.HandleFunc("mail.test.", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		if r.Question[0].Qtype == dns.TypeMX {
			m.Answer = append(m.Answer, &dns.MX{
				Hdr:        dns.RR_Header{Name: "mail.test.", Rrtype: dns.TypeMX, Class: dns.ClassINET, Ttl: 60},
				Preference: 10,
				Mx:         "mx.mail.test.",
			})
		}
		_ = w.WriteMsg(m)
	})
	mux.HandleFunc("host.test.", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		if r.Question[0].Qtype == dns.TypeA {
			m.Answer = append(m.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: "host.test.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.ParseIP("127.0.0.1"),
			})
		}
		_ = w.WriteMsg(m)
	})
	mux.HandleFunc(".", func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeNameError)
		_ = w.WriteMsg(m)
	})

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	server := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = server.ActivateAndServe() }()
	t.Cleanup(func() { _ = server.Shutdown() })

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("DNS server did not start")
	}
	return pc.LocalAddr().String()
}

func TestMXChecker(t *testing.T) {
	addr := startDNSServer(t)
	checker := NewMXChecker(addr, 2*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	assert.NoError(t, checker.CheckDomain(ctx, "mail.test"), "MX record")
	assert.NoError(t, checker.CheckDomain(ctx, "host.test"), "A record fallback")
	assert.ErrorIs(t, checker.CheckDomain(ctx, "nowhere.test"), ErrUnknownDomain)
}

func TestMXCheckerUnreachableResolver(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := pc.LocalAddr().String()
	require.NoError(t, pc.Close())

	checker := NewMXChecker(addr, 200*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err = checker.CheckDomain(context.Background(), "mail.test")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownDomain)
}
