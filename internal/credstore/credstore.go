// Package credstore persists login credentials encrypted to a per-device age
// identity. The stored blob embeds a device fingerprint, so a credentials
// file copied to another machine refuses to open there.
package credstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"
)

const (
	// DeviceIDFileName holds the stable device fingerprint.
	DeviceIDFileName = "device.id"
	// IdentityFileName holds the age X25519 identity that seals credentials.
	IdentityFileName = "device.key"
	// CredentialsFileName is the sealed credentials blob.
	CredentialsFileName = "credentials.age"

	deviceIDLength = 32
	deviceIDSalt   = "upkk-device-v1/"
)

var (
	// ErrNoCredentials reports that nothing has been saved yet.
	ErrNoCredentials = errors.New("credstore: no stored credentials")
	// ErrForeignDevice reports a credentials file whose embedded device
	// fingerprint does not match this machine.
	ErrForeignDevice = errors.New("credstore: credentials were saved on a different device")
)

// machineIDPaths are consulted in order when deriving a fresh device
// fingerprint. The raw contents never leave the host; only a salted,
// truncated hash is persisted.
var machineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
	"/sys/class/dmi/id/product_uuid",
}

// Credentials is the payload sealed into the credentials file. DeviceID and
// CreatedAt are stamped by Save.
type Credentials struct {
	SteamID64  string    `json:"steamid64"`
	SecureCode string    `json:"securecode"`
	DeviceID   string    `json:"device_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Config locates the store on disk.
type Config struct {
	DataDir string
}

// Dependencies allow tests to stub collaborators.
type Dependencies struct {
	Logger *log.Logger
	Now    func() time.Time
}

// Store reads and writes the sealed credentials file. All methods are safe
// for concurrent use.
type Store struct {
	dir    string
	logger *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	deviceID string
	identity *age.X25519Identity
}

// NewStore constructs a credential store rooted at cfg.DataDir.
func NewStore(cfg Config, deps Dependencies) (*Store, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("credstore: data dir is required")
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Store{
		dir:    cfg.DataDir,
		logger: deps.Logger,
		now:    deps.Now,
	}, nil
}

// DeviceID returns the stable device fingerprint, deriving and persisting it
// on first use.
func (s *Store) DeviceID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureDeviceIDLocked()
}

// Save seals the credentials to the device recipient and writes them to the
// data dir. The current device fingerprint is always embedded, regardless of
// what the caller put in creds.DeviceID.
func (s *Store) Save(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceID, err := s.ensureDeviceIDLocked()
	if err != nil {
		return err
	}
	identity, err := s.ensureIdentityLocked()
	if err != nil {
		return err
	}

	creds.DeviceID = deviceID
	if creds.CreatedAt.IsZero() {
		creds.CreatedAt = s.now().UTC()
	}
	payload, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	var sealed bytes.Buffer
	w, err := age.Encrypt(&sealed, identity.Recipient())
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}

	path := filepath.Join(s.dir, CredentialsFileName)
	if err := writeFileAtomic(path, sealed.Bytes()); err != nil {
		return fmt.Errorf("write credentials %q: %w", path, err)
	}
	s.logger.Printf("credstore: credentials saved with device binding")
	return nil
}

// Load unseals the stored credentials and verifies they were saved on this
// device. Missing credentials return ErrNoCredentials; a blob from another
// machine returns ErrForeignDevice.
func (s *Store) Load() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceID, err := s.ensureDeviceIDLocked()
	if err != nil {
		return Credentials{}, err
	}
	identity, err := s.ensureIdentityLocked()
	if err != nil {
		return Credentials{}, err
	}

	path := filepath.Join(s.dir, CredentialsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, ErrNoCredentials
		}
		return Credentials{}, fmt.Errorf("read credentials %q: %w", path, err)
	}

	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return Credentials{}, fmt.Errorf("unseal credentials: %w", err)
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return Credentials{}, fmt.Errorf("unseal credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	if creds.DeviceID != deviceID {
		return Credentials{}, ErrForeignDevice
	}
	return creds, nil
}

// Clear removes the stored credentials. Clearing an empty store is a no-op.
func (s *Store) Clear() error {
	path := filepath.Join(s.dir, CredentialsFileName)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credentials %q: %w", path, err)
	}
	return nil
}

// Present reports whether a credentials file exists, without unsealing it.
func (s *Store) Present() bool {
	_, err := os.Stat(filepath.Join(s.dir, CredentialsFileName))
	return err == nil
}

func (s *Store) ensureDeviceIDLocked() (string, error) {
	if s.deviceID != "" {
		return s.deviceID, nil
	}

	path := filepath.Join(s.dir, DeviceIDFileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(data))
		if len(id) == deviceIDLength {
			s.deviceID = id
			return id, nil
		}
		s.logger.Printf("credstore: replacing malformed device id file %q", path)
	case errors.Is(err, fs.ErrNotExist):
	default:
		return "", fmt.Errorf("read device id %q: %w", path, err)
	}

	seed, ok := readMachineID()
	if !ok {
		seed = uuid.NewString()
	}
	sum := sha256.Sum256([]byte(deviceIDSalt + seed))
	id := hex.EncodeToString(sum[:deviceIDLength/2])

	if err := writeFileAtomic(path, []byte(id+"\n")); err != nil {
		return "", fmt.Errorf("persist device id %q: %w", path, err)
	}
	s.deviceID = id
	return id, nil
}

func (s *Store) ensureIdentityLocked() (*age.X25519Identity, error) {
	if s.identity != nil {
		return s.identity, nil
	}

	path := filepath.Join(s.dir, IdentityFileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("parse device key %q: %w", path, err)
		}
		s.identity = identity
		return identity, nil
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read device key %q: %w", path, err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate device key: %w", err)
	}
	if err := writeFileAtomic(path, []byte(identity.String()+"\n")); err != nil {
		return nil, fmt.Errorf("persist device key %q: %w", path, err)
	}
	s.identity = identity
	return identity, nil
}

func readMachineID() (string, bool) {
	for _, path := range machineIDPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, true
		}
	}
	return "", false
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
