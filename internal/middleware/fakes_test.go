package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/basalt/basalt/internal/model"
)

const testKey = "bslt_0123456789abcdef0123456789abcdef0123456789abcdef"

type fakeResolver struct {
	users map[string]*model.User
	err   error
}

func (f *fakeResolver) ResolveSession(_ context.Context, token string) (*model.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.users[token], nil
}

type fakeKeys struct {
	mu    sync.Mutex
	owner *model.User
	err   error
	calls []string
}

func (f *fakeKeys) Validate(_ context.Context, key string) (*model.User, *model.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	if f.err != nil {
		return nil, nil, f.err
	}
	if key != testKey || f.owner == nil {
		return nil, nil, nil
	}
	return f.owner, &model.APIKey{ID: 42, UserID: f.owner.ID, KeyHint: key[:13]}, nil
}

var errStore = errors.New("store unavailable")

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil)), &buf
}
