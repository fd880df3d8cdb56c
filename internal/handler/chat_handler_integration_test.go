package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mercura/order-chat/internal/handler"
	"github.com/mercura/order-chat/internal/hub"
	"github.com/mercura/order-chat/internal/index"
	"github.com/mercura/order-chat/internal/models"
	"github.com/mercura/order-chat/internal/repository"
	"github.com/mercura/order-chat/internal/service"
	"github.com/mercura/order-chat/internal/testutil"
	"github.com/mercura/order-chat/internal/wal"
	"github.com/mercura/order-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
)

// ChatHandlerIntegrationTestSuite drives the HTTP surface end to end against
// the real service stack over in-memory SQLite.
type ChatHandlerIntegrationTestSuite struct {
	suite.Suite
	testDB *testutil.TestDatabase
	relay  *hub.Hub
	walIns *wal.WAL
	router *gin.Engine
}

func (s *ChatHandlerIntegrationTestSuite) SetupSuite() {
	logger.Init(false)
	gin.SetMode(gin.TestMode)
	s.testDB = testutil.SetupTestDatabase(s.T())
}

func (s *ChatHandlerIntegrationTestSuite) TearDownSuite() {
	s.testDB.Teardown(s.T())
}

func (s *ChatHandlerIntegrationTestSuite) SetupTest() {
	testutil.CleanDatabase(s.T(), s.testDB.DB)

	walInstance, err := wal.NewWAL(filepath.Join(s.T().TempDir(), "messages.wal"))
	s.Require().NoError(err)
	s.walIns = walInstance

	repo := repository.NewMessageRepository(s.testDB.DB, 1000)
	ix := index.New()
	s.relay = hub.New("test-node", nil)
	s.Require().NoError(s.relay.Start())

	chatService := service.NewChatService(repo, ix, s.relay, walInstance)
	chatHandler := handler.NewChatHandler(chatService, 3*time.Second, 5*time.Second)

	s.router = gin.New()
	s.router.GET("/chat", chatHandler.Read)
	s.router.GET("/chat/config", chatHandler.ClientConfig)
	s.router.POST("/chat", chatHandler.Write)
	s.router.DELETE("/chat/messages/:id", chatHandler.Delete)
	s.router.GET("/admin/chat/conversations", chatHandler.Conversations)
	s.router.GET("/admin/chat/messages", chatHandler.History)
}

func (s *ChatHandlerIntegrationTestSuite) TearDownTest() {
	s.relay.Stop()
	s.walIns.Close()
}

func (s *ChatHandlerIntegrationTestSuite) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *ChatHandlerIntegrationTestSuite) decode(w *httptest.ResponseRecorder) map[string]json.RawMessage {
	var out map[string]json.RawMessage
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (s *ChatHandlerIntegrationTestSuite) TestWriteThenRead() {
	w := s.do(http.MethodPost, "/chat", map[string]interface{}{
		"user_id":     "u1",
		"content":     "hello",
		"sender_type": "customer",
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var created struct {
		Message models.Message `json:"message"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &created))
	s.NotEmpty(created.Message.ID)
	s.Equal("hello", created.Message.Content)

	w = s.do(http.MethodGet, "/chat?user_id=u1", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var listed struct {
		Messages []models.Message `json:"messages"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &listed))
	s.Require().Len(listed.Messages, 1)
	s.Equal(created.Message.ID, listed.Messages[0].ID)
}

func (s *ChatHandlerIntegrationTestSuite) TestWriteDefaultsToCustomer() {
	w := s.do(http.MethodPost, "/chat", map[string]interface{}{
		"user_id": "u1",
		"content": "no sender type given",
	})
	s.Require().Equal(http.StatusOK, w.Code)

	var created struct {
		Message models.Message `json:"message"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &created))
	s.Equal(models.SenderCustomer, created.Message.SenderType)
}

func (s *ChatHandlerIntegrationTestSuite) TestWriteEchoesClientID() {
	w := s.do(http.MethodPost, "/chat", map[string]interface{}{
		"user_id":     "u1",
		"content":     "optimistic",
		"sender_type": "customer",
		"client_id":   "temp-123",
	})
	s.Require().Equal(http.StatusOK, w.Code)

	body := s.decode(w)
	var clientID string
	s.Require().NoError(json.Unmarshal(body["client_id"], &clientID))
	s.Equal("temp-123", clientID)
}

func (s *ChatHandlerIntegrationTestSuite) TestWriteValidationFailure() {
	w := s.do(http.MethodPost, "/chat", map[string]interface{}{
		"user_id":     "u1",
		"sender_type": "customer",
	})
	s.Equal(http.StatusBadRequest, w.Code)

	// Nothing persisted.
	w = s.do(http.MethodGet, "/chat?user_id=u1", nil)
	var listed struct {
		Messages []models.Message `json:"messages"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &listed))
	s.Empty(listed.Messages)
}

func (s *ChatHandlerIntegrationTestSuite) TestReadWithoutKeysReturnsEmpty() {
	w := s.do(http.MethodGet, "/chat", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"messages": []}`, w.Body.String())
}

func (s *ChatHandlerIntegrationTestSuite) TestReadKeyedButEmptyReturnsEmptyArray() {
	// A keyed query matching no rows still answers with an array, never null.
	w := s.do(http.MethodGet, "/chat?user_id=nobody", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"messages": []}`, w.Body.String())

	w = s.do(http.MethodGet, "/chat?order_id=ord_none", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"messages": []}`, w.Body.String())
}

func (s *ChatHandlerIntegrationTestSuite) TestHistoryOfDeletedConversationReturnsEmptyArray() {
	w := s.do(http.MethodPost, "/chat", map[string]interface{}{
		"user_id": "u1", "content": "soon gone", "sender_type": "customer",
	})
	s.Require().Equal(http.StatusOK, w.Code)

	var created struct {
		Message models.Message `json:"message"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &created))

	w = s.do(http.MethodDelete, fmt.Sprintf("/chat/messages/%s", created.Message.ID), nil)
	s.Require().Equal(http.StatusOK, w.Code)

	// Every message soft-deleted: history is an empty array, not null.
	w = s.do(http.MethodGet, "/admin/chat/messages?user_id=u1", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"messages": []}`, w.Body.String())
}

func (s *ChatHandlerIntegrationTestSuite) TestReadByOrderID() {
	for i, payload := range []map[string]interface{}{
		{"user_id": "u1", "order_id": "ord_1", "content": "about the order", "sender_type": "customer"},
		{"user_id": "u1", "content": "general question", "sender_type": "customer"},
	} {
		w := s.do(http.MethodPost, "/chat", payload)
		s.Require().Equal(http.StatusOK, w.Code, "write %d failed: %s", i, w.Body.String())
	}

	w := s.do(http.MethodGet, "/chat?order_id=ord_1", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var listed struct {
		Messages []models.Message `json:"messages"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &listed))
	s.Require().Len(listed.Messages, 1)
	s.Equal("about the order", listed.Messages[0].Content)
}

func (s *ChatHandlerIntegrationTestSuite) TestConversationsAndHistory() {
	for _, payload := range []map[string]interface{}{
		{"user_id": "u1", "content": "hello", "sender_type": "customer"},
		{"user_id": "u2", "content": "hi there", "sender_type": "customer"},
		{"user_id": "u1", "content": "hi back", "sender_type": "admin"},
	} {
		w := s.do(http.MethodPost, "/chat", payload)
		s.Require().Equal(http.StatusOK, w.Code)
	}

	w := s.do(http.MethodGet, "/admin/chat/conversations", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	var convs struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &convs))
	s.Require().Len(convs.Conversations, 2)
	// u1 was active last.
	s.Equal("u1", convs.Conversations[0].UserID)
	s.Equal("hi back", convs.Conversations[0].LastMessage.Content)
	s.Equal(1, convs.Conversations[0].UnreadCount)

	// Fetching history clears the unread counter.
	w = s.do(http.MethodGet, "/admin/chat/messages?user_id=u1", nil)
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/admin/chat/conversations", nil)
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &convs))
	s.Equal(0, convs.Conversations[0].UnreadCount)
}

func (s *ChatHandlerIntegrationTestSuite) TestHistoryRequiresUserID() {
	w := s.do(http.MethodGet, "/admin/chat/messages", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *ChatHandlerIntegrationTestSuite) TestDelete() {
	w := s.do(http.MethodPost, "/chat", map[string]interface{}{
		"user_id": "u1", "content": "oops", "sender_type": "customer",
	})
	s.Require().Equal(http.StatusOK, w.Code)

	var created struct {
		Message models.Message `json:"message"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &created))

	w = s.do(http.MethodDelete, fmt.Sprintf("/chat/messages/%s", created.Message.ID), nil)
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/chat?user_id=u1", nil)
	var listed struct {
		Messages []models.Message `json:"messages"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &listed))
	s.Empty(listed.Messages)

	// Deleting twice is a 404: the row is already marked.
	w = s.do(http.MethodDelete, fmt.Sprintf("/chat/messages/%s", created.Message.ID), nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *ChatHandlerIntegrationTestSuite) TestClientConfig() {
	w := s.do(http.MethodGet, "/chat/config", nil)
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"poll_interval_ms": 3000, "reconcile_window_ms": 5000}`, w.Body.String())
}

func TestChatHandlerIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(ChatHandlerIntegrationTestSuite))
}
