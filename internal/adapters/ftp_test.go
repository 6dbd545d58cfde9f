package adapters

import (
	goerrors "errors"
	"net/textproto"
	"testing"
	"time"

	inleterrors "github.com/inletworks/inlet/internal/errors"
	"github.com/inletworks/inlet/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyFTPError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCategory  inleterrors.Category
		wantRetryable bool
	}{
		{"530 not logged in", &textproto.Error{Code: 530, Msg: "Login incorrect"}, inleterrors.CategoryAuthenticationFailure, false},
		{"421 service unavailable", &textproto.Error{Code: 421, Msg: "Service not available"}, inleterrors.CategoryProtocolError, true},
		{"450 transient file error", &textproto.Error{Code: 450, Msg: "Requested file action not taken"}, inleterrors.CategoryProtocolError, true},
		{"550 not found", &textproto.Error{Code: 550, Msg: "No such file or directory"}, inleterrors.CategoryProtocolError, false},
		{"dial timeout", goerrors.New("dial tcp: i/o timeout"), inleterrors.CategoryConnectionTimeout, true},
		{"refused", goerrors.New("dial tcp: connection refused"), inleterrors.CategoryProtocolError, true},
		{"unknown defaults to protocol", goerrors.New("weird failure"), inleterrors.CategoryProtocolError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyFTPError("list", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.wantCategory, inleterrors.Classify(err))
			assert.Equal(t, tt.wantRetryable, inleterrors.IsRetryable(err))
		})
	}
}

func TestFTPFileURL(t *testing.T) {
	tests := []struct {
		name     string
		settings models.FTPSettings
		path     string
		file     string
		want     string
	}{
		{
			name:     "default port plain",
			settings: models.FTPSettings{Server: "ftp.example.com"},
			path:     "/inbound/2025",
			file:     "a.csv",
			want:     "ftp://ftp.example.com/inbound/2025/a.csv",
		},
		{
			name:     "custom port with tls",
			settings: models.FTPSettings{Server: "ftp.example.com", Port: 2121, UseTLS: true},
			path:     "inbound",
			file:     "b.csv",
			want:     "ftps://ftp.example.com:2121/inbound/b.csv",
		},
		{
			name:     "trailing slash trimmed",
			settings: models.FTPSettings{Server: "ftp.example.com", Port: 21},
			path:     "/inbound/",
			file:     "c.csv",
			want:     "ftp://ftp.example.com/inbound/c.csv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewFTPAdapter(tt.settings, "pw", time.Minute)
			assert.Equal(t, tt.want, a.fileURL(tt.path, tt.file))
		})
	}
}
