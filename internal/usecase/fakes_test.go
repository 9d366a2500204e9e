package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/semmidev/dbkeeper/internal/domain"
	"github.com/semmidev/dbkeeper/internal/infrastructure/scheduler"
)

type fakeConnector struct {
	engine      domain.Engine
	backupErr   error
	restoreErr  error
	testErr     error
	connected   bool
	disconnects int
	restored    string
	tables      []string
	restoreSeen func(path string)
}

func (f *fakeConnector) Engine() domain.Engine { return f.engine }

func (f *fakeConnector) Connect(_ context.Context, _ domain.ConnectionConfig) error {
	f.connected = true
	return nil
}

func (f *fakeConnector) TestConnection(context.Context) error { return f.testErr }

func (f *fakeConnector) Backup(_ context.Context, outputPath string, _ domain.BackupKind) (string, error) {
	if f.backupErr != nil {
		return "", f.backupErr
	}
	return outputPath, os.WriteFile(outputPath, []byte("dump"), 0644)
}

func (f *fakeConnector) Restore(_ context.Context, inputPath string, tables []string) error {
	f.restored = inputPath
	f.tables = tables
	if f.restoreSeen != nil {
		f.restoreSeen(inputPath)
	}
	return f.restoreErr
}

func (f *fakeConnector) Disconnect(context.Context) error {
	f.disconnects++
	f.connected = false
	return nil
}

func (f *fakeConnector) FileExtension() string { return "dump" }

func connectorsOf(c domain.Connector) ConnectorFactory {
	return func(engine domain.Engine) (domain.Connector, error) {
		if _, err := domain.ParseEngine(string(engine)); err != nil {
			return nil, err
		}
		return c, nil
	}
}

type memObject struct {
	data     []byte
	modified time.Time
}

// memProvider is a remote backend held in memory.
type memProvider struct {
	mu        sync.Mutex
	backend   domain.Backend
	objects   map[string]memObject
	deleteErr error
	cfg       domain.StorageConfig
}

func newMemProvider(backend domain.Backend) *memProvider {
	return &memProvider{backend: backend, objects: map[string]memObject{}}
}

func (m *memProvider) Backend() domain.Backend { return m.backend }

func (m *memProvider) Initialize(_ context.Context, cfg domain.StorageConfig) error {
	m.cfg = cfg
	return nil
}

func (m *memProvider) Store(_ context.Context, localPath, name string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	m.objects[name] = memObject{data: data, modified: time.Now()}
	return "backups/" + name, nil
}

func (m *memProvider) Retrieve(_ context.Context, ref, localPath string) (string, error) {
	obj, ok := m.objects[ref]
	if !ok {
		return "", errors.New("no such object")
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return "", err
	}
	return localPath, os.WriteFile(localPath, obj.data, 0644)
}

func (m *memProvider) List(context.Context) ([]domain.ObjectInfo, error) {
	var out []domain.ObjectInfo
	for name, obj := range m.objects {
		out = append(out, domain.ObjectInfo{Name: name, Size: int64(len(obj.data)), LastModified: obj.modified})
	}
	return out, nil
}

func (m *memProvider) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.objects, ref)
	return nil
}

func providersOf(p domain.Provider) ProviderFactory {
	return func(backend domain.Backend) (domain.Provider, error) {
		if _, err := domain.ParseBackend(string(backend)); err != nil {
			return nil, err
		}
		return p, nil
	}
}

type recordingNotifier struct {
	sent []domain.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n domain.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

type fakeTimers struct {
	mu   sync.Mutex
	jobs map[string]scheduler.Job
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{jobs: map[string]scheduler.Job{}}
}

func (f *fakeTimers) Add(id, spec string, job scheduler.Job) error {
	if err := scheduler.Validate(spec); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; ok {
		return errors.New("already armed")
	}
	f.jobs[id] = job
	return nil
}

func (f *fakeTimers) Remove(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[id]
	delete(f.jobs, id)
	return ok
}

type countingBackup struct {
	mu   sync.Mutex
	runs []domain.BackupRequest
	err  error
}

func (c *countingBackup) Execute(_ context.Context, req domain.BackupRequest) (*domain.BackupResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs = append(c.runs, req)
	return &domain.BackupResult{}, c.err
}
