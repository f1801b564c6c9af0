package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pelusa-v/groupchat/internal/chat"
	"github.com/pelusa-v/groupchat/internal/imagehost"
	"github.com/pelusa-v/groupchat/internal/logger"
)

// Key is the single local-storage key holding the chat profile.
const Key = "groupchat-user"

// KV is the local key-value capability the profile lives in.
type KV interface {
	SetItem(key string, value any) error
	GetItem(key string, dst any) (bool, error)
	RemoveItem(key string) error
	Exists(key string) (bool, error)
}

// Store reads and writes the device profile under Key.
type Store struct {
	kv KV
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// Get returns the profile, or nil when none has been created.
func (s *Store) Get() (*chat.Identity, error) {
	var id chat.Identity
	ok, err := s.kv.GetItem(Key, &id)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (s *Store) Set(id chat.Identity) error {
	if err := s.kv.SetItem(Key, id); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

func (s *Store) Remove() error {
	return s.kv.RemoveItem(Key)
}

func (s *Store) Exists() (bool, error) {
	return s.kv.Exists(Key)
}

// Uploader uploads profile avatars.
type Uploader interface {
	Configured() bool
	Upload(ctx context.Context, files []imagehost.File) ([]imagehost.Result, error)
}

// Service creates and edits profiles.
type Service struct {
	store    *Store
	uploader Uploader
	newID    func() string
}

func NewService(store *Store, uploader Uploader) *Service {
	return &Service{store: store, uploader: uploader, newID: uuid.NewString}
}

func (s *Service) Store() *Store { return s.store }

// CreateProfile uploads the avatar and stores a fresh profile with a new
// authId. Both a username and an avatar are required.
func (s *Service) CreateProfile(ctx context.Context, username string, avatar *imagehost.File) (*chat.Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", chat.ErrNoIdentity)
	}
	url, err := s.uploadAvatar(ctx, avatar)
	if err != nil {
		return nil, err
	}
	id := chat.Identity{AuthID: s.newID(), Username: username, Avatar: url}
	if err := s.store.Set(id); err != nil {
		return nil, err
	}
	logger.Info("profile_created", "auth_id", id.AuthID, "username", id.Username)
	return &id, nil
}

// UpdateProfile changes the username and, when a file is given, the avatar.
// The authId is kept so earlier messages stay attributed to this device.
func (s *Service) UpdateProfile(ctx context.Context, username string, avatar *imagehost.File) (*chat.Identity, error) {
	cur, err := s.store.Get()
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, chat.ErrNoIdentity
	}
	if u := strings.TrimSpace(username); u != "" {
		cur.Username = u
	}
	if avatar != nil {
		url, err := s.uploadAvatar(ctx, avatar)
		if err != nil {
			return nil, err
		}
		cur.Avatar = url
	}
	if err := s.store.Set(*cur); err != nil {
		return nil, err
	}
	return cur, nil
}

// Logout forgets the profile on this device.
func (s *Service) Logout() error {
	return s.store.Remove()
}

func (s *Service) uploadAvatar(ctx context.Context, avatar *imagehost.File) (string, error) {
	if s.uploader == nil || !s.uploader.Configured() {
		return "", chat.ErrUploaderConfig
	}
	if avatar == nil {
		return "", fmt.Errorf("%w: avatar is required", chat.ErrNoIdentity)
	}
	res, err := s.uploader.Upload(ctx, []imagehost.File{*avatar})
	if err != nil {
		return "", err
	}
	if len(res) == 0 || res[0].SecureURL == "" {
		return "", &chat.UploadError{Index: 0, Err: fmt.Errorf("image host returned no url")}
	}
	return res[0].SecureURL, nil
}
