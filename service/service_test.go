package service

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/bcrypt"

	"taskhub-api/storage"
)

type published struct {
	name    string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, name string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{name: name, payload: payload})
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.name)
	}
	return out
}

func (p *recordingPublisher) last() published {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return published{}
	}
	return p.events[len(p.events)-1]
}

type fixedIssuer struct{}

func (fixedIssuer) Issue(userID string) (string, error) {
	return "token-" + userID, nil
}

func newTestLogger() *log.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func newUserService(store *storage.Memory) *UserService {
	return NewUserService(store, fixedIssuer{}, bcrypt.MinCost, newTestLogger())
}

func newTaskService(store *storage.Memory) (*TaskService, *recordingPublisher) {
	pub := &recordingPublisher{}
	return NewTaskService(store, pub, newTestLogger()), pub
}
