// Package notes implements the HTTP note service: user accounts, bearer
// tokens and generated notes kept in a single JSON document.
package notes

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists         = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUnauthorized       = errors.New("missing or unknown token")
)

type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
}

type Note struct {
	ID         int       `json:"id"`
	UserID     int       `json:"userId"`
	Transcript string    `json:"transcript"`
	Notes      string    `json:"notes"`
	CreatedAt  time.Time `json:"createdAt"`
}

type document struct {
	Users []User `json:"users"`
	Notes []Note `json:"notes"`
}

// Store keeps the document in memory and rewrites the file after every
// mutation. Tokens live only in memory and are lost on restart.
type Store struct {
	path string
	cost int
	now  func() time.Time

	mu     sync.RWMutex
	doc    document
	tokens map[string]int
}

// OpenStore loads path, starting empty when the file does not exist yet.
func OpenStore(path string) (*Store, error) {
	s := &Store{
		path:   path,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
		tokens: make(map[string]int),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read notes document: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("failed to parse notes document %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Register(username, password string) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.userByName(username); ok {
		return User{}, ErrUserExists
	}
	user := User{ID: s.nextUserID(), Username: username, PasswordHash: string(hash)}
	s.doc.Users = append(s.doc.Users, user)
	if err := s.persistLocked(); err != nil {
		s.doc.Users = s.doc.Users[:len(s.doc.Users)-1]
		return User{}, err
	}
	return user, nil
}

// Login returns a fresh bearer token for valid credentials.
func (s *Store) Login(username, password string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.userByName(username)
	if !ok {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	token := uuid.NewString()
	s.tokens[token] = user.ID
	return token, nil
}

func (s *Store) Authenticate(token string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokens[token]
	if !ok || token == "" {
		return User{}, ErrUnauthorized
	}
	for _, u := range s.doc.Users {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, ErrUnauthorized
}

func (s *Store) AddNote(userID int, transcript, text string) (Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	note := Note{
		ID:         s.nextNoteID(),
		UserID:     userID,
		Transcript: transcript,
		Notes:      text,
		CreatedAt:  s.now().UTC(),
	}
	s.doc.Notes = append(s.doc.Notes, note)
	if err := s.persistLocked(); err != nil {
		s.doc.Notes = s.doc.Notes[:len(s.doc.Notes)-1]
		return Note{}, err
	}
	return note, nil
}

// NotesFor lists a user's notes oldest first.
func (s *Store) NotesFor(userID int) []Note {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Note, 0)
	for _, n := range s.doc.Notes {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

// Ready reports whether the document can be read back from disk.
func (s *Store) Ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		_, statErr := os.Stat(filepath.Dir(s.path))
		return statErr
	}
	if err != nil {
		return err
	}
	return f.Close()
}

func (s *Store) userByName(username string) (User, bool) {
	for _, u := range s.doc.Users {
		if u.Username == username {
			return u, true
		}
	}
	return User{}, false
}

func (s *Store) nextUserID() int {
	id := 0
	for _, u := range s.doc.Users {
		id = max(id, u.ID)
	}
	return id + 1
}

func (s *Store) nextNoteID() int {
	id := 0
	for _, n := range s.doc.Notes {
		id = max(id, n.ID)
	}
	return id + 1
}

// persistLocked replaces the document file atomically.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode notes document: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write notes document: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write notes document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write notes document: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace notes document: %w", err)
	}
	return nil
}
