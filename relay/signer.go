package relay

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

// Signer assigns an event its id and signature on behalf of one identity.
type Signer interface {
	// Pubkey returns the hex public key the signer signs as.
	Pubkey() string
	// Sign fills in the event's Pubkey, ID, and Sig fields.
	Sign(ctx context.Context, event *Event) error
}

// LocalSigner signs events with an in-process ed25519 key.
type LocalSigner struct {
	priv ed25519.PrivateKey
	pub  string
}

// NewLocalSigner generates a fresh keypair.
func NewLocalSigner() (*LocalSigner, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &LocalSigner{priv: priv, pub: hex.EncodeToString(pub)}, nil
}

// NewLocalSignerFromSeed restores a signer from a 32-byte hex seed.
func NewLocalSignerFromSeed(seedHex string) (*LocalSigner, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &LocalSigner{priv: priv, pub: hex.EncodeToString(pub)}, nil
}

// Pubkey returns the hex-encoded public key.
func (s *LocalSigner) Pubkey() string { return s.pub }

// SeedHex returns the hex-encoded private key seed, for key backup and
// config bootstrapping.
func (s *LocalSigner) SeedHex() string {
	return hex.EncodeToString(s.priv.Seed())
}

// Sign assigns the event id and signature.
func (s *LocalSigner) Sign(_ context.Context, event *Event) error {
	event.Pubkey = s.pub
	event.ID = event.ComputeID()
	idBytes, err := hex.DecodeString(event.ID)
	if err != nil {
		return fmt.Errorf("decode event id: %w", err)
	}
	event.Sig = hex.EncodeToString(ed25519.Sign(s.priv, idBytes))
	return nil
}

// Verify checks an event's signature against its pubkey and recomputed id.
func Verify(event *Event) bool {
	if event.ID != event.ComputeID() {
		return false
	}
	pub, err := hex.DecodeString(event.Pubkey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	idBytes, err := hex.DecodeString(event.ID)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(event.Sig)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), idBytes, sig)
}

// RemoteSignerConfig configures a RemoteSigner.
type RemoteSignerConfig struct {
	// URL is the websocket endpoint of the remote signing service.
	URL string `yaml:"url" json:"url"`
	// Pubkey is the identity the remote service signs as.
	Pubkey string `yaml:"pubkey" json:"pubkey"`
	// Timeout bounds each signing round trip. Default 15s.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// RemoteSigner delegates signing to an external service over a websocket.
// Each Sign call opens a connection, races the round trip against the
// configured bound, and closes the connection on every exit path so a
// timed-out attempt never leaks an open subscription.
type RemoteSigner struct {
	config RemoteSignerConfig
	logger *zap.Logger
}

// NewRemoteSigner creates a remote signer.
func NewRemoteSigner(config RemoteSignerConfig, logger *zap.Logger) *RemoteSigner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &RemoteSigner{
		config: config,
		logger: logger.With(zap.String("component", "remote_signer")),
	}
}

// Pubkey returns the remote identity's public key.
func (s *RemoteSigner) Pubkey() string { return s.config.Pubkey }

// signRequest is the wire request to the signing service.
type signRequest struct {
	ID    string `json:"id"`
	Event *Event `json:"event"`
}

// signResponse is the wire response from the signing service.
type signResponse struct {
	ID    string `json:"id"`
	Event *Event `json:"event,omitempty"`
	Error string `json:"error,omitempty"`
}

// Sign sends the event to the remote service and copies back the assigned
// id and signature. Timeout errors carry the configured bound.
func (s *RemoteSigner) Sign(ctx context.Context, event *Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, s.config.URL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return types.NewTimeoutError("remote sign connect", s.config.Timeout)
		}
		return types.NewError(types.ErrSigningFailed, "connect to remote signer").WithCause(err)
	}
	// Release the connection on every exit path, including timeout.
	defer conn.Close(websocket.StatusNormalClosure, "done")

	reqID := uuid.New().String()
	event.Pubkey = s.config.Pubkey
	if err := wsjson.Write(ctx, conn, signRequest{ID: reqID, Event: event}); err != nil {
		if ctx.Err() != nil {
			return types.NewTimeoutError("remote sign", s.config.Timeout)
		}
		return types.NewError(types.ErrSigningFailed, "send sign request").WithCause(err)
	}

	var resp signResponse
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		if ctx.Err() != nil {
			s.logger.Warn("remote sign timed out, closing listener",
				zap.String("url", s.config.URL),
				zap.Duration("timeout", s.config.Timeout),
			)
			return types.NewTimeoutError("remote sign", s.config.Timeout)
		}
		return types.NewError(types.ErrSigningFailed, "read sign response").WithCause(err)
	}
	if resp.Error != "" {
		return types.NewError(types.ErrSigningFailed, resp.Error)
	}
	if resp.Event == nil || resp.Event.Sig == "" {
		return ErrBadSignRequest
	}

	event.ID = resp.Event.ID
	event.Sig = resp.Event.Sig
	return nil
}

// marshalForLog renders an event compactly for debug logging.
func marshalForLog(e *Event) string {
	b, _ := json.Marshal(e)
	if len(b) > 256 {
		b = b[:256]
	}
	return string(b)
}
