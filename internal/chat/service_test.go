package chat

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaguechat/internal/imageopt"
	"github.com/leaguechat/pkg/models"
)

const testLeague = "6f1c2f44-0d0e-4a43-9d55-3b1d0c7c1a01"

type serviceFixture struct {
	store   *memStore
	blobs   *memBlobs
	cleanup *recordingCleanup
	subs    *stubSubscriber
	svc     *Service
}

func newFixture() *serviceFixture {
	f := &serviceFixture{
		store:   newMemStore(),
		blobs:   newMemBlobs(),
		cleanup: &recordingCleanup{},
		subs:    &stubSubscriber{},
	}
	f.svc = NewService(f.store, f.blobs, f.subs, Options{Cleanup: f.cleanup})
	return f
}

func strPtr(s string) *string { return &s }

func TestSend_TextWithMention(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	author := f.store.addMember(testLeague, "bob")
	alice := f.store.addMember(testLeague, "alice")

	res, err := f.svc.Send(ctx, SendRequest{
		AuthorID: author,
		LeagueID: testLeague,
		Content:  "@alice check this out",
		Kind:     models.MessageKindText,
	})
	require.NoError(t, err)
	require.NoError(t, res.MentionErr)
	assert.Equal(t, []string{alice}, res.MentionedUserIDs)

	stored, err := f.store.GetMessage(ctx, res.Message.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "@alice check this out", stored.Content)
	require.Len(t, stored.Mentions, 1)
	assert.Equal(t, alice, stored.Mentions[0].UserID)
}

func TestSend_UnresolvedMentionsDropped(t *testing.T) {
	f := newFixture()
	author := f.store.addMember(testLeague, "bob")

	res, err := f.svc.Send(context.Background(), SendRequest{
		AuthorID: author,
		LeagueID: testLeague,
		Content:  "@ghost where are you",
		Kind:     models.MessageKindText,
	})
	require.NoError(t, err)
	assert.NoError(t, res.MentionErr)
	assert.Empty(t, res.MentionedUserIDs)

	stored, _ := f.store.GetMessage(context.Background(), res.Message.ID)
	assert.Empty(t, stored.Mentions)
}

func TestSend_MentionFailureKeepsMessage(t *testing.T) {
	f := newFixture()
	author := f.store.addMember(testLeague, "bob")
	f.store.addMember(testLeague, "alice")
	f.store.mentionErr = errors.New("boom")

	res, err := f.svc.Send(context.Background(), SendRequest{
		AuthorID: author,
		LeagueID: testLeague,
		Content:  "hey @alice",
		Kind:     models.MessageKindText,
	})
	require.NoError(t, err)
	require.Error(t, res.MentionErr)
	assert.Contains(t, res.MentionErr.Error(), "boom")

	history, err := f.svc.History(context.Background(), testLeague, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, res.Message.ID, history[0].ID)
}

func TestSend_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name string
		req  SendRequest
	}{
		{"missing author", SendRequest{LeagueID: testLeague, Content: "x", Kind: models.MessageKindText}},
		{"missing league", SendRequest{AuthorID: "a", Content: "x", Kind: models.MessageKindText}},
		{"blank text", SendRequest{AuthorID: "a", LeagueID: testLeague, Content: "   ", Kind: models.MessageKindText}},
		{"text with caption", SendRequest{AuthorID: "a", LeagueID: testLeague, Content: "x", Kind: models.MessageKindText, PhotoCaption: strPtr("c")}},
		{"photo without file", SendRequest{AuthorID: "a", LeagueID: testLeague, Kind: models.MessageKindPhoto}},
		{"unknown kind", SendRequest{AuthorID: "a", LeagueID: testLeague, Content: "x", Kind: "video"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Send(ctx, tt.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	history, _ := f.svc.History(ctx, testLeague, 10)
	assert.Empty(t, history)
}

func TestSend_PhotoIsOptimizedAndUploaded(t *testing.T) {
	f := newFixture()
	author := f.store.addMember(testLeague, "bob")

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1200, 1600)), nil))
	photo := imageopt.File{Name: "match.jpeg", ContentType: "image/jpeg", Data: buf.Bytes()}

	res, err := f.svc.Send(context.Background(), SendRequest{
		AuthorID:     author,
		LeagueID:     testLeague,
		Content:      "final score",
		Kind:         models.MessageKindPhoto,
		Photo:        &photo,
		PhotoCaption: strPtr("3-2 after extra time"),
		Viewport:     imageopt.ViewportMobile,
	})
	require.NoError(t, err)

	msg := res.Message
	require.NotNil(t, msg.PhotoURL)
	assert.True(t, strings.HasPrefix(*msg.PhotoURL, "https://media.test/chat-photos/"+testLeague+"/"))
	assert.True(t, strings.HasSuffix(*msg.PhotoURL, ".jpg"))
	assert.Equal(t, "3-2 after extra time", *msg.PhotoCaption)
	assert.NoError(t, msg.Validate())

	require.Len(t, f.blobs.objects, 1)
	for key, data := range f.blobs.objects {
		assert.Equal(t, "image/jpeg", f.blobs.types[key])
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, 300, cfg.Width)
		assert.Equal(t, 400, cfg.Height)
	}
}

func TestSend_PhotoRejectedBeforeUpload(t *testing.T) {
	f := newFixture()
	f.svc = NewService(f.store, f.blobs, f.subs, Options{MaxPhotoBytes: 16})
	author := f.store.addMember(testLeague, "bob")
	photo := testPNG(t, 64, 64)

	_, err := f.svc.Send(context.Background(), SendRequest{
		AuthorID: author,
		LeagueID: testLeague,
		Kind:     models.MessageKindPhoto,
		Photo:    &photo,
	})
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Empty(t, f.blobs.objects)
}

func TestSend_UploadFailure(t *testing.T) {
	f := newFixture()
	f.blobs.err = errors.New("disk full")
	author := f.store.addMember(testLeague, "bob")
	photo := testPNG(t, 20, 20)

	_, err := f.svc.Send(context.Background(), SendRequest{
		AuthorID: author,
		LeagueID: testLeague,
		Kind:     models.MessageKindPhoto,
		Photo:    &photo,
	})
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, 1, f.blobs.calls, "permanent failures are not retried")

	history, _ := f.svc.History(context.Background(), testLeague, 10)
	assert.Empty(t, history)
}

func TestSend_UploadRetriesTransientFailure(t *testing.T) {
	f := newFixture()
	f.blobs.transient = 1
	author := f.store.addMember(testLeague, "bob")
	photo := testPNG(t, 20, 20)

	res, err := f.svc.Send(context.Background(), SendRequest{
		AuthorID: author,
		LeagueID: testLeague,
		Kind:     models.MessageKindPhoto,
		Photo:    &photo,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Message.PhotoURL)
	assert.Equal(t, 2, f.blobs.calls)
	assert.Len(t, f.blobs.objects, 1)
}

func TestSend_ConcurrentSendsAllPersist(t *testing.T) {
	f := newFixture()
	author := f.store.addMember(testLeague, "bob")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Send(context.Background(), SendRequest{
				AuthorID: author,
				LeagueID: testLeague,
				Content:  "spam",
				Kind:     models.MessageKindText,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := f.svc.History(context.Background(), testLeague, 50)
	require.NoError(t, err)
	assert.Len(t, history, 10)
}

func TestHistory_NewestFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	author := f.store.addMember(testLeague, "bob")

	for _, text := range []string{"first", "second", "third"} {
		_, err := f.svc.Send(ctx, SendRequest{AuthorID: author, LeagueID: testLeague, Content: text, Kind: models.MessageKindText})
		require.NoError(t, err)
	}

	history, err := f.svc.History(ctx, testLeague, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "third", history[0].Content)
	assert.Equal(t, "second", history[1].Content)
	assert.Empty(t, history[0].Reactions)
	assert.True(t, history[0].Author.IsPresent())
}

func TestReactions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	author := f.store.addMember(testLeague, "bob")
	res, err := f.svc.Send(ctx, SendRequest{AuthorID: author, LeagueID: testLeague, Content: "goal!", Kind: models.MessageKindText})
	require.NoError(t, err)
	id := res.Message.ID

	r, err := f.svc.React(ctx, id, "🔥", author)
	require.NoError(t, err)
	assert.Equal(t, "🔥", r.Emoji)

	_, err = f.svc.React(ctx, id, "🔥", author)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.React(ctx, id, "not-an-emoji", author)
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, f.svc.Unreact(ctx, id, "🔥", author))
	// removing again is a no-op
	require.NoError(t, f.svc.Unreact(ctx, id, "🔥", author))
	require.NoError(t, f.svc.Unreact(ctx, id, "👍", "someone-else"))

	_, err = f.svc.React(ctx, id, "🔥", author)
	assert.NoError(t, err)
}

func TestRemove_OnlyAuthorDeletes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	author := f.store.addMember(testLeague, "bob")
	other := f.store.addMember(testLeague, "eve")
	res, err := f.svc.Send(ctx, SendRequest{AuthorID: author, LeagueID: testLeague, Content: "keep me", Kind: models.MessageKindText})
	require.NoError(t, err)

	require.NoError(t, f.svc.Remove(ctx, res.Message.ID, other))
	stored, err := f.store.GetMessage(ctx, res.Message.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored, "non-author delete must leave the message in place")

	require.NoError(t, f.svc.Remove(ctx, res.Message.ID, author))
	stored, err = f.store.GetMessage(ctx, res.Message.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)

	// deleting again is indistinguishable from success
	assert.NoError(t, f.svc.Remove(ctx, res.Message.ID, author))
}

func TestAdminRemove_SchedulesPhotoCleanup(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	author := f.store.addMember(testLeague, "bob")
	photo := testPNG(t, 20, 20)
	res, err := f.svc.Send(ctx, SendRequest{AuthorID: author, LeagueID: testLeague, Kind: models.MessageKindPhoto, Photo: &photo})
	require.NoError(t, err)

	require.NoError(t, f.svc.AdminRemove(ctx, testLeague, res.Message.ID))

	stored, _ := f.store.GetMessage(ctx, res.Message.ID)
	assert.Nil(t, stored)
	assert.Equal(t, []string{*res.Message.PhotoURL}, f.cleanup.urls)

	// nothing deleted, nothing scheduled
	require.NoError(t, f.svc.AdminRemove(ctx, testLeague, res.Message.ID))
	assert.Len(t, f.cleanup.urls, 1)
}

func TestAdminRemove_OtherLeagueUntouched(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	const otherLeague = "0b7f3f0e-8f1e-4c5e-a8c4-3c1f6a2d9e02"
	author := f.store.addMember(otherLeague, "alice")
	res, err := f.svc.Send(ctx, SendRequest{AuthorID: author, LeagueID: otherLeague, Content: "mine", Kind: models.MessageKindText})
	require.NoError(t, err)

	require.NoError(t, f.svc.AdminRemove(ctx, testLeague, res.Message.ID))

	stored, err := f.store.GetMessage(ctx, res.Message.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored, "admin of one league cannot delete in another")
}

func TestSend_ReplyMustStayInLeague(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	const otherLeague = "0b7f3f0e-8f1e-4c5e-a8c4-3c1f6a2d9e02"
	author := f.store.addMember(testLeague, "bob")
	outsider := f.store.addMember(otherLeague, "alice")

	parent, err := f.svc.Send(ctx, SendRequest{AuthorID: author, LeagueID: testLeague, Content: "kickoff", Kind: models.MessageKindText})
	require.NoError(t, err)
	foreign, err := f.svc.Send(ctx, SendRequest{AuthorID: outsider, LeagueID: otherLeague, Content: "elsewhere", Kind: models.MessageKindText})
	require.NoError(t, err)

	reply, err := f.svc.Send(ctx, SendRequest{
		AuthorID: author, LeagueID: testLeague, Content: "agreed", Kind: models.MessageKindText, ReplyTo: strPtr(parent.Message.ID),
	})
	require.NoError(t, err)
	assert.Equal(t, parent.Message.ID, *reply.Message.ReplyTo)

	for name, target := range map[string]string{
		"other league": foreign.Message.ID,
		"missing":      "2d3c4b5a-0000-4000-8000-000000000000",
	} {
		t.Run(name, func(t *testing.T) {
			before := len(f.store.messages)
			_, err := f.svc.Send(ctx, SendRequest{
				AuthorID: author, LeagueID: testLeague, Content: "nope", Kind: models.MessageKindText, ReplyTo: strPtr(target),
			})
			assert.ErrorIs(t, err, ErrReplyOutsideLeague)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Len(t, f.store.messages, before)
		})
	}
}

func TestLive_DelegatesToSubscriber(t *testing.T) {
	f := newFixture()
	var got []*models.ChatMessage

	sub, err := f.svc.Live(context.Background(), testLeague, func(m *models.ChatMessage) {
		got = append(got, m)
	})
	require.NoError(t, err)
	assert.Equal(t, testLeague, f.subs.leagueID)

	f.subs.handler(&models.ChatMessage{ID: "m1"})
	require.Len(t, got, 1)

	require.NoError(t, sub.Close())
	assert.True(t, f.subs.sub.closed)
}
