// ABOUTME: Tests for message persistence
// ABOUTME: Covers pagination, answer recording with alternatives, and soft delete axes

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRoom(t *testing.T, s Store, roomID int64) {
	t.Helper()
	_, err := s.CreateRoom(context.Background(), "alice", "room", roomID)
	require.NoError(t, err)
}

func TestMessages_AppendAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedRoom(t, s, 1)

		msg := &Message{
			ID:      1000,
			OwnerID: "alice",
			RoomID:  1,
			Prompt:  "What is Go?",
			Linkage: Linkage{ParentMessageID: "chatcmpl-0"},
			Options: RequestOptions{SystemPrompt: "be brief", Temperature: 0.8, TopP: 1, Model: "gpt-4o"},
		}
		require.NoError(t, s.AppendMessage(ctx, msg))

		got, err := s.GetMessage(ctx, "alice", 1, 1000)
		require.NoError(t, err)
		assert.Equal(t, "alice", got.OwnerID)
		assert.Equal(t, "What is Go?", got.Prompt)
		assert.Empty(t, got.Response)
		assert.Equal(t, MessageActive, got.State)
		assert.Equal(t, "chatcmpl-0", got.Linkage.ParentMessageID)
		assert.Equal(t, "gpt-4o", got.Options.Model)
		assert.InDelta(t, 0.8, got.Options.Temperature, 0.0001)
		assert.Nil(t, got.Usage)
		assert.Empty(t, got.Alternatives)
		assert.False(t, got.Answered())
	})
}

func TestMessages_AppendConflict(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedRoom(t, s, 1)

		require.NoError(t, s.AppendMessage(ctx, &Message{ID: 1000, OwnerID: "alice", RoomID: 1, Prompt: "a"}))
		err := s.AppendMessage(ctx, &Message{ID: 1000, OwnerID: "alice", RoomID: 1, Prompt: "b"})
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestMessages_GetMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetMessage(context.Background(), "alice", 1, 42)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMessages_Pagination(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedRoom(t, s, 1)

		for id := int64(1); id <= 25; id++ {
			require.NoError(t, s.AppendMessage(ctx, &Message{ID: id * 1000, OwnerID: "alice", RoomID: 1, Prompt: "p"}))
		}

		// Newest page, oldest first within the page
		page, err := s.ListMessages(ctx, "alice", 1, nil, 0)
		require.NoError(t, err)
		require.Len(t, page, DefaultPageSize)
		assert.Equal(t, int64(6000), page[0].ID)
		assert.Equal(t, int64(25000), page[len(page)-1].ID)

		// Strictly older than the cursor
		cursor := page[0].ID
		older, err := s.ListMessages(ctx, "alice", 1, &cursor, 0)
		require.NoError(t, err)
		require.Len(t, older, 5)
		assert.Equal(t, int64(1000), older[0].ID)
		assert.Equal(t, int64(5000), older[4].ID)

		small, err := s.ListMessages(ctx, "alice", 1, nil, 3)
		require.NoError(t, err)
		require.Len(t, small, 3)
		assert.Equal(t, int64(23000), small[0].ID)
	})
}

func TestMessages_PaginationSkipsFullyDeleted(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedRoom(t, s, 1)

		for _, id := range []int64{1000, 2000, 3000} {
			require.NoError(t, s.AppendMessage(ctx, &Message{ID: id, OwnerID: "alice", RoomID: 1, Prompt: "p"}))
		}
		require.NoError(t, s.SoftDeleteMessage(ctx, "alice", 1, 2000, SidePrompt))
		require.NoError(t, s.SoftDeleteMessage(ctx, "alice", 1, 2000, SideResponse))
		require.NoError(t, s.SoftDeleteMessage(ctx, "alice", 1, 3000, SidePrompt))

		page, err := s.ListMessages(ctx, "alice", 1, nil, 0)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, int64(1000), page[0].ID)
		assert.Equal(t, int64(3000), page[1].ID)
		assert.Equal(t, MessagePromptDeleted, page[1].State)
	})
}

func TestMessages_RecordFreshAnswer(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedRoom(t, s, 1)
		require.NoError(t, s.AppendMessage(ctx, &Message{ID: 1000, OwnerID: "alice", RoomID: 1, Prompt: "hi"}))

		answer := Answer{
			Response: "hello",
			Linkage:  Linkage{BackendMessageID: "b1", BackendConversationID: "c1"},
			Usage:    &Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		}
		require.NoError(t, s.RecordFreshAnswer(ctx, "alice", 1, 1000, answer))

		got, err := s.GetMessage(ctx, "alice", 1, 1000)
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Response)
		assert.Equal(t, "b1", got.Linkage.BackendMessageID)
		assert.Equal(t, "c1", got.Linkage.BackendConversationID)
		require.NotNil(t, got.Usage)
		assert.Equal(t, 5, got.Usage.TotalTokens)
		assert.False(t, got.Usage.Estimated)
		assert.Empty(t, got.Alternatives)
		assert.True(t, got.Answered())

		err = s.RecordFreshAnswer(ctx, "alice", 1, 9999, answer)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMessages_RegenerateKeepsEveryAnswer(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedRoom(t, s, 1)
		require.NoError(t, s.AppendMessage(ctx, &Message{ID: 1000, OwnerID: "alice", RoomID: 1, Prompt: "hi"}))

		require.NoError(t, s.RecordFreshAnswer(ctx, "alice", 1, 1000, Answer{
			Response: "answer-0",
			Linkage:  Linkage{BackendMessageID: "b0"},
			Usage:    &Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2, Estimated: true},
		}))

		const regenerations = 3
		for i := 1; i <= regenerations; i++ {
			require.NoError(t, s.RecordRegeneratedAnswer(ctx, "alice", 1, 1000, Answer{
				Response: "answer-" + string(rune('0'+i)),
				Linkage:  Linkage{BackendMessageID: "b" + string(rune('0'+i)), ParentMessageID: "p"},
				Usage:    &Usage{PromptTokens: i, CompletionTokens: i, TotalTokens: 2 * i},
			}))
		}

		got, err := s.GetMessage(ctx, "alice", 1, 1000)
		require.NoError(t, err)
		require.Len(t, got.Alternatives, regenerations)
		assert.Equal(t, "answer-3", got.Response)
		assert.Equal(t, "b3", got.Linkage.BackendMessageID)

		for i, alt := range got.Alternatives {
			assert.Equal(t, "answer-"+string(rune('0'+i)), alt.Response)
			assert.Equal(t, "b"+string(rune('0'+i)), alt.Linkage.BackendMessageID)
		}

		first := got.Alternatives[0]
		require.NotNil(t, first.Usage)
		assert.Equal(t, 2, first.Usage.TotalTokens)
		assert.True(t, first.Usage.Estimated)
		assert.Equal(t, "p", got.Alternatives[1].Linkage.ParentMessageID)

		live, err := got.AnswerAt(regenerations)
		require.NoError(t, err)
		assert.Equal(t, "answer-3", live.Response)
	})
}

func TestMessages_RegenerateUnansweredPushesEmptyAnswer(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedRoom(t, s, 1)
		require.NoError(t, s.AppendMessage(ctx, &Message{ID: 1000, OwnerID: "alice", RoomID: 1, Prompt: "hi"}))

		require.NoError(t, s.RecordRegeneratedAnswer(ctx, "alice", 1, 1000, Answer{Response: "late"}))

		got, err := s.GetMessage(ctx, "alice", 1, 1000)
		require.NoError(t, err)
		require.Len(t, got.Alternatives, 1)
		assert.Empty(t, got.Alternatives[0].Response)
		assert.Nil(t, got.Alternatives[0].Usage)
		assert.Equal(t, "late", got.Response)
	})
}

func TestMessages_GetByBackendID(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedRoom(t, s, 1)
		require.NoError(t, s.AppendMessage(ctx, &Message{ID: 1000, OwnerID: "alice", RoomID: 1, Prompt: "hi"}))
		require.NoError(t, s.RecordFreshAnswer(ctx, "alice", 1, 1000, Answer{Response: "yo", Linkage: Linkage{BackendMessageID: "b1"}}))

		got, err := s.GetMessageByBackendID(ctx, "alice", 1, "b1")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), got.ID)

		_, err = s.GetMessageByBackendID(ctx, "alice", 1, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = s.GetMessageByBackendID(ctx, "alice", 2, "b1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMessages_SoftDeleteAxes(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedRoom(t, s, 1)
		require.NoError(t, s.AppendMessage(ctx, &Message{ID: 1000, OwnerID: "alice", RoomID: 1, Prompt: "hi"}))

		require.NoError(t, s.SoftDeleteMessage(ctx, "alice", 1, 1000, SideResponse))
		got, err := s.GetMessage(ctx, "alice", 1, 1000)
		require.NoError(t, err)
		assert.Equal(t, MessageResponseDeleted, got.State)

		// Repeating the same side is a no-op
		require.NoError(t, s.SoftDeleteMessage(ctx, "alice", 1, 1000, SideResponse))
		got, err = s.GetMessage(ctx, "alice", 1, 1000)
		require.NoError(t, err)
		assert.Equal(t, MessageResponseDeleted, got.State)

		require.NoError(t, s.SoftDeleteMessage(ctx, "alice", 1, 1000, SidePrompt))
		got, err = s.GetMessage(ctx, "alice", 1, 1000)
		require.NoError(t, err)
		assert.Equal(t, MessageBothDeleted, got.State)

		err = s.SoftDeleteMessage(ctx, "alice", 1, 9999, SidePrompt)
		assert.ErrorIs(t, err, ErrNotFound)

		err = s.SoftDeleteMessage(ctx, "alice", 1, 1000, Side("both"))
		assert.Error(t, err)
	})
}

func TestMessages_ClearRoom(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedRoom(t, s, 1)
		seedRoom(t, s, 2)
		require.NoError(t, s.AppendMessage(ctx, &Message{ID: 1000, OwnerID: "alice", RoomID: 1, Prompt: "a"}))
		require.NoError(t, s.AppendMessage(ctx, &Message{ID: 2000, OwnerID: "alice", RoomID: 1, Prompt: "b"}))
		require.NoError(t, s.AppendMessage(ctx, &Message{ID: 1000, OwnerID: "alice", RoomID: 2, Prompt: "c"}))

		require.NoError(t, s.ClearRoom(ctx, "alice", 1))

		page, err := s.ListMessages(ctx, "alice", 1, nil, 0)
		require.NoError(t, err)
		assert.Empty(t, page)

		other, err := s.ListMessages(ctx, "alice", 2, nil, 0)
		require.NoError(t, err)
		assert.Len(t, other, 1)

		// The room itself survives a clear
		_, err = s.GetRoom(ctx, "alice", 1)
		assert.NoError(t, err)
	})
}

func TestMessages_SameRoomIDIsolatedPerOwner(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, owner := range []string{"alice", "bob"} {
			_, err := s.CreateRoom(ctx, owner, "room", 1)
			require.NoError(t, err)
		}

		require.NoError(t, s.AppendMessage(ctx, &Message{ID: 1000, OwnerID: "alice", RoomID: 1, Prompt: "alice private"}))
		require.NoError(t, s.RecordFreshAnswer(ctx, "alice", 1, 1000, Answer{Response: "secret", Linkage: Linkage{BackendMessageID: "b1"}}))

		// The same message id in bob's room 1 is not a conflict
		require.NoError(t, s.AppendMessage(ctx, &Message{ID: 1000, OwnerID: "bob", RoomID: 1, Prompt: "bob prompt"}))

		page, err := s.ListMessages(ctx, "bob", 1, nil, 0)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "bob prompt", page[0].Prompt)
		assert.Empty(t, page[0].Response)

		_, err = s.GetMessageByBackendID(ctx, "bob", 1, "b1")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.SoftDeleteMessage(ctx, "bob", 1, 1000, SidePrompt))
		require.NoError(t, s.ClearRoom(ctx, "bob", 1))
		ok, err := s.DeleteRoom(ctx, "bob", 1)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, s.ClearAllRooms(ctx, "bob"))

		got, err := s.GetMessage(ctx, "alice", 1, 1000)
		require.NoError(t, err)
		assert.Equal(t, MessageActive, got.State)
		assert.Equal(t, "secret", got.Response)

		alicePage, err := s.ListMessages(ctx, "alice", 1, nil, 0)
		require.NoError(t, err)
		assert.Len(t, alicePage, 1)
	})
}
