package directory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/logging"
	"github.com/go-ldap/ldap/v3"
)

// session is the part of *ldap.Conn used here.
type session interface {
	Bind(username, password string) error
	Add(req *ldap.AddRequest) error
	Del(req *ldap.DelRequest) error
}

type dialFunc func(ctx context.Context) (session, func(), error)

// Options configure the LDAP backend. BindDN/BindPassword is the service
// account used for writes.
type Options struct {
	URL          string
	BindDN       string
	BindPassword string
	Timeout      time.Duration
}

// LDAP opens one connection per operation; nothing is pooled.
type LDAP struct {
	opts   Options
	dial   dialFunc
	logger logging.Logger
}

func NewLDAP(opts Options, logger logging.Logger) *LDAP {
	l := &LDAP{opts: opts, logger: logger.With("module", "directory")}
	l.dial = l.dialURL
	return l
}

func (l *LDAP) dialURL(ctx context.Context) (session, func(), error) {
	d := &net.Dialer{Timeout: l.opts.Timeout}
	if deadline, ok := ctx.Deadline(); ok {
		d.Deadline = deadline
	}
	conn, err := ldap.DialURL(l.opts.URL, ldap.DialWithDialer(d))
	if err != nil {
		return nil, nil, err
	}
	conn.SetTimeout(l.opts.Timeout)
	return conn, func() { conn.Close() }, nil
}

// Authenticate binds as dn. Unknown DNs and wrong passwords both yield
// ErrInvalidCredentials.
func (l *LDAP) Authenticate(ctx context.Context, dn, password string) error {
	// an empty password would be an unauthenticated bind, which succeeds
	if password == "" {
		return ErrInvalidCredentials
	}

	err := l.do(ctx, func(s session) error {
		return s.Bind(dn, password)
	})
	switch {
	case err == nil:
		return nil
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials),
		ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject):
		return ErrInvalidCredentials
	default:
		l.logger.Warn(ctx, "directory bind failed", "dn", dn, "error", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

func (l *LDAP) Add(ctx context.Context, entry Entry) error {
	req := ldap.NewAddRequest(entry.DN, nil)
	req.Attribute("objectClass", ObjectClasses)
	req.Attribute("cn", []string{entry.Name})
	req.Attribute("sn", []string{entry.Name})
	req.Attribute("mail", []string{entry.Email})
	req.Attribute("userPassword", []string{entry.Password})

	err := l.do(ctx, func(s session) error {
		if err := l.bindService(s); err != nil {
			return err
		}
		return s.Add(req)
	})
	switch {
	case err == nil:
		return nil
	case ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists):
		return ErrEntryExists
	default:
		return fmt.Errorf("add %s: %w", entry.DN, err)
	}
}

func (l *LDAP) Delete(ctx context.Context, dn string) error {
	err := l.do(ctx, func(s session) error {
		if err := l.bindService(s); err != nil {
			return err
		}
		return s.Del(ldap.NewDelRequest(dn, nil))
	})
	switch {
	case err == nil:
		return nil
	case ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject):
		return ErrNoSuchEntry
	default:
		return fmt.Errorf("delete %s: %w", dn, err)
	}
}

func (l *LDAP) bindService(s session) error {
	if l.opts.BindDN == "" {
		return nil
	}
	return s.Bind(l.opts.BindDN, l.opts.BindPassword)
}

// do runs fn on a fresh connection and gives up when ctx is done. Closing
// the connection unblocks fn.
func (l *LDAP) do(ctx context.Context, fn func(s session) error) error {
	s, closeConn, err := l.dial(ctx)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- fn(s) }()

	select {
	case err := <-done:
		closeConn()
		return err
	case <-ctx.Done():
		closeConn()
		return errors.Join(ErrUnavailable, ctx.Err())
	}
}
