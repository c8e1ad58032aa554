package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/looplabs/chatcore/types"
)

func makeToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "alice",
		"exp":     exp.Unix(),
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}
	return signed
}

func TestSessionTokenExpiry(t *testing.T) {
	session := NewSession(makeToken(t, time.Now().Add(time.Hour)))

	tok, err := session.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok == "" {
		t.Error("Expected a token")
	}
}

func TestSessionExpiredWithoutRefresh(t *testing.T) {
	session := NewSession(makeToken(t, time.Now().Add(-time.Minute)))

	if _, err := session.Token(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Expected ErrNotAuthenticated, got %v", err)
	}
}

func TestSessionExpiredRefreshes(t *testing.T) {
	session := NewSession(makeToken(t, time.Now().Add(-time.Minute)))

	fresh := makeToken(t, time.Now().Add(time.Hour))
	refreshed := false
	session.OnRefresh(func(ctx context.Context) (string, error) {
		refreshed = true
		return fresh, nil
	})

	tok, err := session.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if !refreshed {
		t.Error("Expected refresh to run")
	}
	if tok != fresh {
		t.Error("Expected the refreshed token")
	}
}

func TestSessionEmptyToken(t *testing.T) {
	session := NewSession("")
	if session.Active() {
		t.Error("Empty session should not be active")
	}
	if _, err := session.Token(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Expected ErrNotAuthenticated, got %v", err)
	}
}

func TestSessionClear(t *testing.T) {
	session := NewSession(makeToken(t, time.Now().Add(time.Hour)))
	if !session.Active() {
		t.Fatal("Session should be active")
	}
	session.Clear()
	if session.Active() {
		t.Error("Cleared session should not be active")
	}
}

// Opaque non-JWT tokens are accepted; they just carry no expiry.
func TestSessionOpaqueToken(t *testing.T) {
	session := NewSession("opaque-session-token")
	tok, err := session.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok != "opaque-session-token" {
		t.Errorf("Unexpected token %q", tok)
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	session := NewSession(makeToken(t, time.Now().Add(time.Hour)))
	return NewClient(srv.URL, session, nil), srv
}

func TestUploadPublicKey(t *testing.T) {
	var gotKey, gotAuth string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat/keys/" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotKey = body["public_key"]
		w.WriteHeader(http.StatusCreated)
	}))

	if err := client.UploadPublicKey(context.Background(), "dGVzdA=="); err != nil {
		t.Fatalf("UploadPublicKey failed: %v", err)
	}
	if gotKey != "dGVzdA==" {
		t.Errorf("Expected key in body, got %q", gotKey)
	}
	if gotAuth == "" || gotAuth == "Bearer " {
		t.Error("Expected Authorization header")
	}
}

func TestFetchPublicKey(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat/keys/bob/":
			json.NewEncoder(w).Encode(types.PublicKeyRecord{Owner: "bob", PublicKey: "Ym9iLWtleQ=="})
		default:
			http.NotFound(w, r)
		}
	}))

	key, err := client.FetchPublicKey(context.Background(), "bob")
	if err != nil {
		t.Fatalf("FetchPublicKey failed: %v", err)
	}
	if key != "Ym9iLWtleQ==" {
		t.Errorf("Unexpected key %q", key)
	}

	if _, err := client.FetchPublicKey(context.Background(), "nobody"); !errors.Is(err, ErrNoPublishedKey) {
		t.Errorf("Expected ErrNoPublishedKey, got %v", err)
	}
}

func TestFetchMyPublicKey(t *testing.T) {
	published := false
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/keys/me/" {
			http.NotFound(w, r)
			return
		}
		if !published {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(types.PublicKeyRecord{Owner: "alice", PublicKey: "bXkta2V5"})
	}))

	_, ok, err := client.FetchMyPublicKey(context.Background())
	if err != nil {
		t.Fatalf("FetchMyPublicKey failed: %v", err)
	}
	if ok {
		t.Error("Expected no published key yet")
	}

	published = true
	key, ok, err := client.FetchMyPublicKey(context.Background())
	if err != nil {
		t.Fatalf("FetchMyPublicKey failed: %v", err)
	}
	if !ok || key != "bXkta2V5" {
		t.Errorf("Expected published key, got ok=%v key=%q", ok, key)
	}
}

func TestSendMessageFallback(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat/conversations/conv-1/messages/" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(types.Message{
			ID:             "msg-1",
			ConversationID: "conv-1",
			Content:        body["content"].(string),
			IsEncrypted:    body["is_encrypted"].(bool),
		})
	}))

	msg, err := client.SendMessage(context.Background(), "conv-1", "ciphertext", true)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.ID != "msg-1" || !msg.IsEncrypted || msg.Content != "ciphertext" {
		t.Errorf("Unexpected message %+v", msg)
	}
}

func TestSendMessageAssignsLocalID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	msg, err := client.SendMessage(context.Background(), "conv-9", "hello", false)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.ID == "" {
		t.Error("Expected a client-assigned id on empty response")
	}
	if msg.ConversationID != "conv-9" {
		t.Errorf("Expected conversation id backfill, got %q", msg.ConversationID)
	}
}

func TestFetchMessagesAndConversations(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat/conversations/conv-1/messages/":
			json.NewEncoder(w).Encode([]types.Message{{ID: "1"}, {ID: "2"}})
		case "/api/chat/conversations/":
			json.NewEncoder(w).Encode([]types.Conversation{{ID: "conv-1", UnreadCount: 2}})
		default:
			http.NotFound(w, r)
		}
	}))

	msgs, err := client.FetchMessages(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("FetchMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("Expected 2 messages, got %d", len(msgs))
	}

	convs, err := client.FetchConversations(context.Background())
	if err != nil {
		t.Fatalf("FetchConversations failed: %v", err)
	}
	if len(convs) != 1 || convs[0].UnreadCount != 2 {
		t.Errorf("Unexpected conversations %+v", convs)
	}
}

func TestServerErrorSurfaced(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	if err := client.UploadPublicKey(context.Background(), "key"); err == nil {
		t.Error("Expected error on 500")
	}
}
