package adapters

import (
	"context"
	"crypto/tls"
	goerrors "errors"
	"fmt"
	"net"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog/log"

	inleterrors "github.com/inletworks/inlet/internal/errors"
	"github.com/inletworks/inlet/internal/models"
	"github.com/inletworks/inlet/internal/pattern"
)

const defaultFTPPort = 21

// FTPAdapter lists files on FTP and FTPS servers.
type FTPAdapter struct {
	settings  models.FTPSettings
	password  string
	opTimeout time.Duration
}

// NewFTPAdapter builds an adapter with an already-resolved password.
func NewFTPAdapter(settings models.FTPSettings, password string, opTimeout time.Duration) *FTPAdapter {
	return &FTPAdapter{settings: settings, password: password, opTimeout: opTimeout}
}

// Protocol implements Adapter.
func (a *FTPAdapter) Protocol() models.Protocol {
	return models.ProtocolFTP
}

// TestConnection dials and logs in without listing.
func (a *FTPAdapter) TestConnection(ctx context.Context) error {
	conn, err := a.connect(ctx)
	if err != nil {
		return err
	}
	if err := conn.Quit(); err != nil {
		log.Debug().Err(err).Str("server", a.settings.Server).Msg("FTP quit after connection test failed")
	}
	return nil
}

// List implements Adapter. Directory entries are skipped; size and
// modification time are carried when the listing supplies them.
func (a *FTPAdapter) List(ctx context.Context, resolvedPath, filenamePattern, extension string) ([]FileMetadata, error) {
	if a.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opTimeout)
		defer cancel()
	}

	conn, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			log.Debug().Err(err).Str("server", a.settings.Server).Msg("FTP quit failed")
		}
	}()

	entries, err := conn.List(resolvedPath)
	if err != nil {
		return nil, classifyFTPError("list", err)
	}

	var files []FileMetadata
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, inleterrors.New(inleterrors.CategoryCancelled, "list", err)
		}
		if entry.Type != ftp.EntryTypeFile {
			continue
		}
		if !pattern.Match(entry.Name, filenamePattern) || !pattern.MatchExtension(entry.Name, extension) {
			continue
		}

		meta := FileMetadata{
			URL:      a.fileURL(resolvedPath, entry.Name),
			Filename: entry.Name,
			ProtocolMetadata: map[string]string{
				"protocol": "ftp",
			},
		}
		if entry.Size > 0 {
			meta.Size = int64Ptr(int64(entry.Size))
		}
		if !entry.Time.IsZero() {
			meta.LastModified = timePtr(entry.Time.UTC())
		}
		files = append(files, meta)
	}
	return files, nil
}

func (a *FTPAdapter) connect(ctx context.Context) (*ftp.ServerConn, error) {
	port := a.settings.Port
	if port <= 0 {
		port = defaultFTPPort
	}
	addr := net.JoinHostPort(a.settings.Server, fmt.Sprintf("%d", port))

	connectTimeout := a.settings.ConnectionTimeout
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}

	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(connectTimeout),
	}
	if a.settings.UseTLS {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: a.settings.Server}))
	}
	if !a.settings.UsePassiveMode {
		// The client has no active-mode support; classic PASV without
		// EPSV is the closest behaviour for legacy servers.
		opts = append(opts, ftp.DialWithDisabledEPSV(true))
	}

	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, classifyFTPError("connect", err)
	}
	if err := conn.Login(a.settings.Username, a.password); err != nil {
		if quitErr := conn.Quit(); quitErr != nil {
			log.Debug().Err(quitErr).Str("server", a.settings.Server).Msg("FTP quit after failed login failed")
		}
		return nil, classifyFTPError("login", err)
	}
	return conn, nil
}

func (a *FTPAdapter) fileURL(resolvedPath, name string) string {
	scheme := "ftp"
	if a.settings.UseTLS {
		scheme = "ftps"
	}
	host := a.settings.Server
	if a.settings.Port > 0 && a.settings.Port != defaultFTPPort {
		host = net.JoinHostPort(a.settings.Server, fmt.Sprintf("%d", a.settings.Port))
	}

	p := strings.TrimSuffix(resolvedPath, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u := url.URL{Scheme: scheme, Host: host, Path: p + "/" + name}
	return u.String()
}

// classifyFTPError maps FTP reply codes onto error categories: 530/532 are
// authentication failures, 4xx replies are transient, remaining 5xx replies
// are permanent protocol errors.
func classifyFTPError(op string, err error) error {
	var protoErr *textproto.Error
	if goerrors.As(err, &protoErr) {
		switch {
		case protoErr.Code == ftp.StatusNotLoggedIn || protoErr.Code == 532:
			return inleterrors.New(inleterrors.CategoryAuthenticationFailure, op, err).WithStatusCode(protoErr.Code)
		case protoErr.Code >= 400 && protoErr.Code < 500:
			e := inleterrors.New(inleterrors.CategoryProtocolError, op, err)
			e.StatusCode = protoErr.Code
			e.Retryable = true
			return e
		case protoErr.Code >= 500:
			e := inleterrors.New(inleterrors.CategoryProtocolError, op, err)
			e.StatusCode = protoErr.Code
			e.Retryable = false
			return e
		}
	}

	category := inleterrors.Classify(err)
	if category == inleterrors.CategoryUnknown {
		category = inleterrors.CategoryProtocolError
	}
	return inleterrors.New(category, op, err)
}
