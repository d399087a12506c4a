package service

import (
	"context"
	"log"
	"sync"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/credstore"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/transport"
)

// sessionManager couples the credential store to the transport: whatever
// secure code is stored on this device is also the bearer credential on
// outbound API requests.
type sessionManager struct {
	creds     *credstore.Store
	transport *transport.Client
	logger    *log.Logger

	mu         sync.Mutex
	credential string
}

// restore applies previously stored credentials at startup. Credentials
// saved on another device fail verification and are treated as absent.
func (s *sessionManager) restore() {
	if !s.creds.Present() {
		return
	}
	creds, err := s.creds.Load()
	if err != nil {
		s.logger.Printf("stored credentials unusable: %v", err)
		return
	}
	s.setCredential(creds.SecureCode)
	s.logger.Printf("restored credentials for %s", creds.SteamID64)
}

func (s *sessionManager) Login(ctx context.Context, steamID, secureCode string) error {
	err := s.creds.Save(credstore.Credentials{
		SteamID64:  steamID,
		SecureCode: secureCode,
	})
	if err != nil {
		return err
	}
	s.setCredential(secureCode)
	s.logger.Printf("credentials stored for %s", steamID)
	return nil
}

func (s *sessionManager) Logout(ctx context.Context) error {
	if err := s.creds.Clear(); err != nil {
		return err
	}
	s.setCredential("")
	s.logger.Printf("credentials cleared")
	return nil
}

func (s *sessionManager) LoggedIn() bool {
	return s.creds.Present()
}

func (s *sessionManager) setCredential(credential string) {
	s.mu.Lock()
	s.credential = credential
	s.mu.Unlock()
	s.transport.SetCredential(credential)
}

func (s *sessionManager) currentCredential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential
}
