// Package smtpdialog implements a single SMTP conversation against one MX
// host, up to RCPT TO, over a (possibly SOCKS5-proxied) TCP connection. It
// never sends a real message — the conversation ends at QUIT regardless of
// the RCPT outcome.
package smtpdialog

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mailvetter/internal/proxy"
)

// State is a point in the dialog's lifecycle. Any protocol or transport
// error transitions the dialog to Closed and releases the proxy slot.
type State int

const (
	Dialing State = iota
	Greeted
	Heloed
	MailFromAccepted
	RcptEvaluated
	Closed
)

func (s State) String() string {
	switch s {
	case Dialing:
		return "Dialing"
	case Greeted:
		return "Greeted"
	case Heloed:
		return "Heloed"
	case MailFromAccepted:
		return "MailFromAccepted"
	case RcptEvaluated:
		return "RcptEvaluated"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// senderDomains is the fixed list of known-clean domains the probe's
// synthesised MAIL FROM address is drawn from, so the probing IP never
// shows up as the envelope sender of a domain it doesn't control.
var senderDomains = []string{
	"salesforce.com",
	"sendgrid.net",
	"mailchimp.com",
	"amazonses.com",
	"postmarkapp.com",
}

// RcptOutcome classifies what an RCPT response means for mailbox existence.
type RcptOutcome int

const (
	// MailboxUnknown is the zero value: no RCPT was evaluated.
	MailboxUnknown RcptOutcome = iota
	MailboxExists
	MailboxRejected
)

// Result is the outcome of one dialog, regardless of whether RCPT accepted
// or rejected the address — only transport/protocol failure produces
// Success == false.
type Result struct {
	Success      bool
	Error        error
	Code         int
	Message      string
	Outcome      RcptOutcome
	UsedTLS      bool
	FinalState   State
}

// Options configures a single dialog.
type Options struct {
	// Proxy, when non-nil, routes the TCP connection through this SOCKS5
	// entry. When nil, the dialog dials the MX host directly.
	Proxy *proxy.Entry
	Pool  *proxy.Pool

	HeloHost   string
	Timeout    time.Duration
	RequireTLS bool

	// Limiter, when non-nil, is waited on before dialing so a burst of
	// concurrent verifications never floods a single MX host with
	// connections regardless of how many proxy entries are available.
	Limiter *rate.Limiter
}

var quitTimeout = 1 * time.Second

// Run executes one full conversation against mxHost for the given address:
// Dial → Greet → EHLO/HELO → (optional) STARTTLS → MAIL FROM → RCPT TO →
// QUIT → Close. The proxy slot (if any) is always released or marked
// failed before Run returns.
func Run(ctx context.Context, mxHost, targetEmail string, opts Options) Result {
	state := Dialing

	if opts.Limiter != nil {
		if err := opts.Limiter.Wait(ctx); err != nil {
			return fail(opts, state, fmt.Errorf("rate limit wait: %w", err))
		}
	}

	conn, err := proxy.Dial(ctx, opts.Proxy, "tcp", net.JoinHostPort(mxHost, "25"), opts.Timeout)
	if err != nil {
		return fail(opts, state, fmt.Errorf("connect: %w", err))
	}

	d := &dialog{
		conn:    conn,
		r:       bufio.NewReader(conn),
		timeout: opts.Timeout,
	}

	res, finalState := d.converse(ctx, mxHost, targetEmail, opts)
	d.conn.Close()

	if res.Success {
		releaseProxy(opts, true)
	} else {
		releaseProxy(opts, false)
	}
	res.FinalState = finalState
	return res
}

func releaseProxy(opts Options, success bool) {
	if opts.Pool == nil || opts.Proxy == nil {
		return
	}
	if success {
		opts.Pool.MarkSuccess(opts.Proxy)
		opts.Pool.Release(opts.Proxy)
	} else {
		opts.Pool.MarkFailure(opts.Proxy)
	}
}

func fail(opts Options, state State, err error) Result {
	releaseProxy(opts, false)
	return Result{Success: false, Error: err, FinalState: Closed}
}

type dialog struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

func (d *dialog) converse(ctx context.Context, mxHost, targetEmail string, opts Options) (Result, State) {
	state := Dialing

	if err := d.setDeadline(opts.Timeout); err != nil {
		return Result{Success: false, Error: err}, state
	}

	// 2. Greet — await 220.
	code, msg, err := d.readResponse()
	if err != nil {
		return Result{Success: false, Error: fmt.Errorf("read greeting: %w", err)}, state
	}
	if code != 220 {
		return Result{Success: false, Error: fmt.Errorf("unexpected greeting code %d: %s", code, msg)}, state
	}
	state = Greeted

	// 3. EHLO, falling back to HELO.
	heloHost := opts.HeloHost
	if heloHost == "" {
		heloHost = "mailvetter.local"
	}
	ehloLines, code, msg, err := d.command("EHLO " + heloHost)
	if err != nil {
		return Result{Success: false, Error: fmt.Errorf("EHLO: %w", err)}, state
	}
	if code != 250 {
		_, code, msg, err = d.command("HELO " + heloHost)
		if err != nil {
			return Result{Success: false, Error: fmt.Errorf("HELO: %w", err)}, state
		}
		if code != 250 {
			return Result{Success: false, Error: fmt.Errorf("EHLO and HELO both rejected: %d %s", code, msg)}, state
		}
		ehloLines = nil
	}
	state = Heloed

	// 4. Optional STARTTLS upgrade.
	usedTLS := false
	if opts.RequireTLS && advertises(ehloLines, "STARTTLS") {
		_, code, msg, err := d.command("STARTTLS")
		if err != nil {
			return Result{Success: false, Error: fmt.Errorf("STARTTLS: %w", err)}, state
		}
		if code != 220 {
			return Result{Success: false, Error: fmt.Errorf("STARTTLS rejected: %d %s", code, msg)}, state
		}

		tlsConn := tls.Client(d.conn, &tls.Config{
			ServerName: mxHost,
			// Certificate verification is intentionally disabled: the goal
			// of this probe is RCPT reachability, not sender
			// authentication, and most MX hosts present certificates that
			// don't validate against the probing client's trust store
			// anyway (wrong SAN, self-signed internal CAs). This
			// connection must never be reused to send real, authenticated
			// mail.
			InsecureSkipVerify: true,
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return Result{Success: false, Error: fmt.Errorf("TLS handshake: %w", err)}, state
		}
		d.conn = tlsConn
		d.r = bufio.NewReader(tlsConn)
		usedTLS = true

		// Re-EHLO after the TLS upgrade, since capabilities can differ
		// (and some servers require it).
		if _, code, msg, err := d.command("EHLO " + heloHost); err != nil {
			return Result{Success: false, Error: fmt.Errorf("post-TLS EHLO: %w", err)}, state
		} else if code != 250 {
			return Result{Success: false, Error: fmt.Errorf("post-TLS EHLO rejected: %d %s", code, msg)}, state
		}
	}

	// 5. MAIL FROM with a synthesised, known-clean sender.
	from := syntheticSender()
	_, code, msg, err = d.command("MAIL FROM:<" + from + ">")
	if err != nil {
		return Result{Success: false, Error: fmt.Errorf("MAIL FROM: %w", err)}, state
	}
	if code != 250 {
		return Result{Success: false, Error: fmt.Errorf("MAIL FROM rejected: %d %s", code, msg)}, state
	}
	state = MailFromAccepted

	// 6. RCPT TO — record the raw code/message, interpretation happens in
	// the caller (the Mailbox Verifier applies the per-provider code sets
	// and the 451/452-as-exists rule).
	_, rcptCode, rcptMsg, err := d.command("RCPT TO:<" + targetEmail + ">")
	if err != nil {
		return Result{Success: false, Error: fmt.Errorf("RCPT TO: %w", err)}, state
	}
	state = RcptEvaluated

	// 7. QUIT — best effort, short timeout, errors ignored.
	d.quit()

	return Result{
		Success: true,
		Code:    rcptCode,
		Message: rcptMsg,
		Outcome: classify(rcptCode),
		UsedTLS: usedTLS,
	}, Closed
}

// classify maps an RCPT response code to a mailbox-existence outcome per
// the protocol-level rule (provider accept/reject sets are applied on top
// of this by the Mailbox Verifier):
//
//   - 2xx                 => exists
//   - 451 or 452          => exists (many providers greylist unknown
//     senders; treated as likely-exists rather than rejected — the code is
//     still surfaced so callers can override this policy)
//   - 550-554             => rejected
//   - any other 4xx/5xx   => rejected
func classify(code int) RcptOutcome {
	switch {
	case code >= 200 && code < 300:
		return MailboxExists
	case code == 451 || code == 452:
		return MailboxExists
	case code >= 400:
		return MailboxRejected
	default:
		return MailboxRejected
	}
}

func (d *dialog) setDeadline(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return d.conn.SetDeadline(time.Now().Add(timeout))
}

// command writes an SMTP command line and reads its (possibly multi-line)
// response.
func (d *dialog) command(line string) (capabilities []string, code int, message string, err error) {
	if err := d.setDeadline(d.timeout); err != nil {
		return nil, 0, "", err
	}
	if _, err := d.conn.Write([]byte(line + "\r\n")); err != nil {
		return nil, 0, "", err
	}
	lines, code, message, err := d.readResponseLines()
	return lines, code, message, err
}

// responseLineMinLen is the length of the shortest valid SMTP response line:
// a bare three-digit code. Longer lines continue with either a space (final
// line) or '-' (continuation).
const responseLineMinLen = 3

// readResponse reads a single (possibly multi-line) response and returns
// only the final code/message.
func (d *dialog) readResponse() (int, string, error) {
	_, code, msg, err := d.readResponseLines()
	return code, msg, err
}

// readResponseLines reads a complete SMTP response: zero or more
// continuation lines of the form "NNN-text", terminated by "NNN text" (or
// bare "NNN"). Matches ^[0-9]{3}([ -].*)?$. The text of every line, the
// final one included, is returned as capabilities so EHLO extension
// negotiation (STARTTLS, etc.) can inspect them.
func (d *dialog) readResponseLines() ([]string, int, string, error) {
	var lines []string
	var lastCode int
	var lastMsg string

	for {
		raw, err := d.r.ReadString('\n')
		if err != nil {
			return nil, 0, "", fmt.Errorf("read response line: %w", err)
		}
		line := strings.TrimRight(raw, "\r\n")
		if len(line) < responseLineMinLen || (len(line) > 3 && line[3] != ' ' && line[3] != '-') {
			return nil, 0, "", errors.New("malformed SMTP response line")
		}
		for i := 0; i < 3; i++ {
			if line[i] < '0' || line[i] > '9' {
				return nil, 0, "", fmt.Errorf("malformed SMTP response code %q", line[:3])
			}
		}

		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return nil, 0, "", fmt.Errorf("malformed SMTP response code %q: %w", line[:3], err)
		}

		rest := ""
		if len(line) > 3 {
			rest = line[4:]
		}
		lines = append(lines, rest)
		lastCode = code
		lastMsg = rest

		// A continuation line has '-' immediately after the code; a final
		// line has a space or nothing.
		if len(line) >= 4 && line[3] == '-' {
			continue
		}
		break
	}

	return lines, lastCode, lastMsg, nil
}

// advertises reports whether any EHLO response line names capability,
// case-insensitively.
func advertises(lines []string, capability string) bool {
	for _, l := range lines {
		if strings.EqualFold(strings.TrimSpace(l), capability) ||
			strings.HasPrefix(strings.ToUpper(strings.TrimSpace(l)), strings.ToUpper(capability)+" ") {
			return true
		}
	}
	return false
}

// quit sends QUIT and reads the response with a short timeout, ignoring
// any error — the dialog is ending regardless of whether the server
// responds cleanly.
func (d *dialog) quit() {
	_ = d.conn.SetDeadline(time.Now().Add(quitTimeout))
	_, _ = d.conn.Write([]byte("QUIT\r\n"))
	_, _, _ = d.readResponse()
}

// syntheticSender builds a verify.<random-token>@<reputable-domain> MAIL
// FROM address, with the domain chosen uniformly from senderDomains.
func syntheticSender() string {
	domain := senderDomains[randomIndex(len(senderDomains))]
	return "verify." + randomToken(8) + "@" + domain
}

// RandomLocalPart generates a random hex local-part used by the Mailbox
// Verifier's catch-all probe (a second RCPT against an address nobody
// could plausibly own).
func RandomLocalPart() string {
	return randomToken(8)
}

func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively unrecoverable on any real
		// platform; fall back to a fixed token rather than panicking so a
		// single probe failure doesn't take down a batch.
		return "fallback0"
	}
	return hex.EncodeToString(b)
}

func randomIndex(n int) int {
	b := make([]byte, 1)
	if _, err := rand.Read(b); err != nil {
		return 0
	}
	return int(b[0]) % n
}
