package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"fedipost/internal/database"
	"fedipost/internal/model"
	"fedipost/internal/pipeline"
	"fedipost/internal/render"
	"fedipost/internal/testutil"
)

type testEnv struct {
	svc     *pipeline.Service
	store   *database.SQLiteStore
	queue   *testutil.RecordingQueue
	editFed *testutil.RecordingEditFederator
	remote  *testutil.FakeRemoteFetcher
	alt     *testutil.FakeAltThreadFetcher
	clock   *testutil.StubClock
	idgen   *testutil.StubIDGenerator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   testutil.NewTestSQLiteStore(t),
		queue:   testutil.NewRecordingQueue(),
		editFed: &testutil.RecordingEditFederator{},
		remote:  testutil.NewFakeRemoteFetcher(),
		alt:     &testutil.FakeAltThreadFetcher{},
		clock:   testutil.FixedClock(),
		idgen:   testutil.NewStubIDGenerator(),
	}
	env.svc = pipeline.NewService(
		env.store,
		render.NewMarkdownRenderer(),
		render.NewTagSanitizer(),
		env.queue,
		env.editFed,
		env.remote,
		env.alt,
		pipeline.NewNopLogger(),
		env.clock,
		env.idgen,
		pipeline.Options{
			ProfileURLBase:      "https://social.example.org",
			PartnerDomainSuffix: "partner.example",
			PartnerOptionName:   "fedipost.federateWithPartner",
		},
	)
	return env
}

func (env *testEnv) seedUser(t *testing.T, id, handle string) *model.User {
	t.Helper()
	u := &model.User{ID: id, Handle: handle}
	testutil.SeedUser(t, env.store, u)
	return u
}

func (env *testEnv) publish(t *testing.T, in *pipeline.CreatePostInput) *pipeline.PublishResult {
	t.Helper()
	result, err := env.svc.CreatePost(context.Background(), in)
	if err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	return result
}

func notificationTypes(t *testing.T, env *testEnv, postID string) map[string][]string {
	t.Helper()
	notifs, err := env.store.FindNotificationsByPost(context.Background(), postID)
	if err != nil {
		t.Fatalf("FindNotificationsByPost() error = %v", err)
	}
	byType := make(map[string][]string)
	for _, n := range notifs {
		byType[n.Type] = append(byType[n.Type], n.NotifiedUserID)
	}
	return byType
}

func TestCreatePost_mentionScenario(t *testing.T) {
	env := newTestEnv(t)
	poster := env.seedUser(t, "u-poster", "poster")
	alice := env.seedUser(t, "u-alice", "alice")

	result := env.publish(t, &pipeline.CreatePostInput{
		PosterID: poster.ID,
		Content:  "hello @alice",
		Privacy:  model.PrivacyPublic,
	})
	post := result.Post

	if !strings.Contains(post.Content, `class="u-url mention"`) {
		t.Errorf("content missing mention anchor: %q", post.Content)
	}
	if !strings.Contains(post.Content, "/fediverse/blog/alice") {
		t.Errorf("content missing local profile link: %q", post.Content)
	}
	if post.MarkdownContent != "hello @alice" {
		t.Errorf("markdown source not preserved: %q", post.MarkdownContent)
	}
	if post.HierarchyLevel != 1 {
		t.Errorf("hierarchy level = %d, want 1", post.HierarchyLevel)
	}
	if post.IsReblog {
		t.Error("post with content marked as reblog")
	}

	mentionIDs, err := env.store.FindMentionedUserIDs(context.Background(), post.ID)
	if err != nil {
		t.Fatalf("FindMentionedUserIDs() error = %v", err)
	}
	if len(mentionIDs) != 1 || mentionIDs[0] != alice.ID {
		t.Errorf("mention rows = %v, want [%s]", mentionIDs, alice.ID)
	}

	byType := notificationTypes(t, env, post.ID)
	if got := byType[model.NotificationMention]; len(got) != 1 || got[0] != alice.ID {
		t.Errorf("MENTION notifications = %v, want [%s]", got, alice.ID)
	}
}

func TestCreatePost_missingParent(t *testing.T) {
	env := newTestEnv(t)
	poster := env.seedUser(t, "u-poster", "poster")

	_, err := env.svc.CreatePost(context.Background(), &pipeline.CreatePostInput{
		PosterID: poster.ID,
		Content:  "reply into the void",
		ParentID: "no-such-post",
	})

	var validation *pipeline.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("CreatePost() error = %v, want ValidationError", err)
	}
	if validation.Message != "non existent parent" {
		t.Errorf("message = %q", validation.Message)
	}
}

func TestCreatePost_unknownPoster(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.CreatePost(context.Background(), &pipeline.CreatePostInput{
		PosterID: "ghost",
		Content:  "hi",
	})

	var notFound *pipeline.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("CreatePost() error = %v, want NotFoundError", err)
	}
}

func TestCreatePost_reblogInheritsPrivacy(t *testing.T) {
	env := newTestEnv(t)
	bob := env.seedUser(t, "u-bob", "bob")
	poster := env.seedUser(t, "u-poster", "poster")

	parent := env.publish(t, &pipeline.CreatePostInput{
		PosterID: bob.ID,
		Content:  "followers only thoughts",
		Privacy:  model.PrivacyFollowersOnly,
	}).Post

	reblog := env.publish(t, &pipeline.CreatePostInput{
		PosterID: poster.ID,
		Content:  "",
		Privacy:  model.PrivacyPublic,
		ParentID: parent.ID,
	}).Post

	if reblog.Privacy != model.PrivacyFollowersOnly {
		t.Errorf("reblog privacy = %v, want followersOnly", reblog.Privacy)
	}
	if !reblog.IsReblog {
		t.Error("empty reply not marked as reblog")
	}
	if reblog.HierarchyLevel != parent.HierarchyLevel+1 {
		t.Errorf("hierarchy level = %d, want %d", reblog.HierarchyLevel, parent.HierarchyLevel+1)
	}

	// The REWOOT event references the parent post, not the reblog.
	byType := notificationTypes(t, env, parent.ID)
	if got := byType[model.NotificationRewoot]; len(got) != 1 || got[0] != bob.ID {
		t.Errorf("REWOOT notifications on parent = %v, want [%s]", got, bob.ID)
	}
}

func TestCreatePost_blockedReplyWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	bob := env.seedUser(t, "u-bob", "bob")
	poster := env.seedUser(t, "u-poster", "poster")

	parent := env.publish(t, &pipeline.CreatePostInput{
		PosterID: bob.ID,
		Content:  "original",
	}).Post
	testutil.SeedBlock(t, env.store, bob.ID, poster.ID)

	before := testutil.CountPosts(t, env.store)
	_, err := env.svc.CreatePost(context.Background(), &pipeline.CreatePostInput{
		PosterID: poster.ID,
		Content:  "reply",
		ParentID: parent.ID,
	})

	var authz *pipeline.AuthorizationError
	if !errors.As(err, &authz) {
		t.Fatalf("CreatePost() error = %v, want AuthorizationError", err)
	}
	if got := testutil.CountPosts(t, env.store); got != before {
		t.Errorf("post count changed on rejected publish: %d -> %d", before, got)
	}
	if len(env.queue.Jobs) != 0 {
		t.Errorf("rejected publish enqueued %d jobs", len(env.queue.Jobs))
	}
}

func TestCreatePost_blockedMentionRejected(t *testing.T) {
	env := newTestEnv(t)
	poster := env.seedUser(t, "u-poster", "poster")
	alice := env.seedUser(t, "u-alice", "alice")
	testutil.SeedBlock(t, env.store, poster.ID, alice.ID)

	_, err := env.svc.CreatePost(context.Background(), &pipeline.CreatePostInput{
		PosterID: poster.ID,
		Content:  "hey @alice",
	})

	var authz *pipeline.AuthorizationError
	if !errors.As(err, &authz) {
		t.Fatalf("CreatePost() error = %v, want AuthorizationError", err)
	}
	if !strings.Contains(authz.Message, "can not mention") {
		t.Errorf("message = %q", authz.Message)
	}
}

func TestCreatePost_bannedAncestorRejected(t *testing.T) {
	env := newTestEnv(t)
	banned := &model.User{ID: "u-banned", Handle: "troll", Banned: true}
	testutil.SeedUser(t, env.store, banned)
	poster := env.seedUser(t, "u-poster", "poster")

	parent := env.publish(t, &pipeline.CreatePostInput{
		PosterID: banned.ID,
		Content:  "bait",
	}).Post

	_, err := env.svc.CreatePost(context.Background(), &pipeline.CreatePostInput{
		PosterID: poster.ID,
		ParentID: parent.ID,
	})

	var authz *pipeline.AuthorizationError
	if !errors.As(err, &authz) {
		t.Fatalf("CreatePost() error = %v, want AuthorizationError", err)
	}
	if authz.Message != "you have no permission to reblog this post" {
		t.Errorf("message = %q", authz.Message)
	}
}

func TestCreatePost_partnerGate(t *testing.T) {
	env := newTestEnv(t)
	partner := &model.User{
		ID:       "u-partner",
		Handle:   "@celeb@partner.example",
		RemoteID: "https://partner.example/users/celeb",
	}
	testutil.SeedUser(t, env.store, partner)
	poster := env.seedUser(t, "u-poster", "poster")

	parent := env.publish(t, &pipeline.CreatePostInput{
		PosterID: partner.ID,
		Content:  "from the partner network",
	}).Post

	t.Run("rejected without opt-in", func(t *testing.T) {
		_, err := env.svc.CreatePost(context.Background(), &pipeline.CreatePostInput{
			PosterID: poster.ID,
			Content:  "reply",
			ParentID: parent.ID,
		})
		var authz *pipeline.AuthorizationError
		if !errors.As(err, &authz) {
			t.Fatalf("CreatePost() error = %v, want AuthorizationError", err)
		}
		if !strings.Contains(authz.Message, "partner.example") {
			t.Errorf("message = %q", authz.Message)
		}
	})

	t.Run("allowed with opt-in", func(t *testing.T) {
		testutil.SeedUserOption(t, env.store, poster.ID, "fedipost.federateWithPartner", "true")
		env.publish(t, &pipeline.CreatePostInput{
			PosterID: poster.ID,
			Content:  "reply",
			ParentID: parent.ID,
		})
	})
}

func TestCreatePost_partnerGateOnQuoteWithoutParent(t *testing.T) {
	env := newTestEnv(t)
	partner := &model.User{
		ID:       "u-partner",
		Handle:   "@celeb@partner.example",
		RemoteID: "https://partner.example/users/celeb",
	}
	testutil.SeedUser(t, env.store, partner)
	poster := env.seedUser(t, "u-poster", "poster")

	quoted := env.publish(t, &pipeline.CreatePostInput{
		PosterID: partner.ID,
		Content:  "from the partner network",
	}).Post

	t.Run("rejected without opt-in", func(t *testing.T) {
		_, err := env.svc.CreatePost(context.Background(), &pipeline.CreatePostInput{
			PosterID:     poster.ID,
			Content:      "look at this",
			QuotedPostID: quoted.ID,
		})
		var authz *pipeline.AuthorizationError
		if !errors.As(err, &authz) {
			t.Fatalf("CreatePost() error = %v, want AuthorizationError", err)
		}
		if !strings.Contains(authz.Message, "partner.example") {
			t.Errorf("message = %q", authz.Message)
		}
	})

	t.Run("allowed with opt-in", func(t *testing.T) {
		testutil.SeedUserOption(t, env.store, poster.ID, "fedipost.federateWithPartner", "true")
		env.publish(t, &pipeline.CreatePostInput{
			PosterID:     poster.ID,
			Content:      "look at this",
			QuotedPostID: quoted.ID,
		})
	})
}

func TestCreatePost_quote(t *testing.T) {
	env := newTestEnv(t)
	bob := env.seedUser(t, "u-bob", "bob")
	poster := env.seedUser(t, "u-poster", "poster")

	quoted := env.publish(t, &pipeline.CreatePostInput{
		PosterID: bob.ID,
		Content:  "quote me",
	}).Post

	post := env.publish(t, &pipeline.CreatePostInput{
		PosterID:     poster.ID,
		Content:      "look at this",
		QuotedPostID: quoted.ID,
	}).Post

	stored, err := env.store.FindPostByID(context.Background(), post.ID)
	if err != nil || stored == nil {
		t.Fatalf("FindPostByID() = %v, %v", stored, err)
	}
	if stored.QuotedPostID != quoted.ID {
		t.Errorf("quoted post id = %q, want %q", stored.QuotedPostID, quoted.ID)
	}

	// The quoted author gets a mention row for visibility but the event is
	// the QUOTE, not a MENTION.
	mentionIDs, _ := env.store.FindMentionedUserIDs(context.Background(), post.ID)
	if len(mentionIDs) != 1 || mentionIDs[0] != bob.ID {
		t.Errorf("mention rows = %v, want [%s]", mentionIDs, bob.ID)
	}
	byType := notificationTypes(t, env, post.ID)
	if got := byType[model.NotificationQuote]; len(got) != 1 || got[0] != bob.ID {
		t.Errorf("QUOTE notifications = %v, want [%s]", got, bob.ID)
	}
	if got := byType[model.NotificationMention]; len(got) != 0 {
		t.Errorf("unexpected MENTION notifications for quoted author: %v", got)
	}
}

func TestCreatePost_editRewritesMentionNotifications(t *testing.T) {
	env := newTestEnv(t)
	poster := env.seedUser(t, "u-poster", "poster")
	env.seedUser(t, "u-alice", "alice")
	env.seedUser(t, "u-bob", "bob")

	post := env.publish(t, &pipeline.CreatePostInput{
		PosterID: poster.ID,
		Content:  "hi @alice and @bob",
	}).Post

	byType := notificationTypes(t, env, post.ID)
	if got := byType[model.NotificationMention]; len(got) != 2 {
		t.Fatalf("initial MENTION notifications = %v, want 2", got)
	}

	edited := env.publish(t, &pipeline.CreatePostInput{
		PosterID:   poster.ID,
		Content:    "hi @alice",
		EditPostID: post.ID,
	})
	if !edited.IsEdit {
		t.Error("edit result not marked as edit")
	}

	byType = notificationTypes(t, env, post.ID)
	if got := byType[model.NotificationMention]; len(got) != 1 || got[0] != "u-alice" {
		t.Errorf("post-edit MENTION notifications = %v, want [u-alice]", got)
	}
}

func TestCreatePost_tags(t *testing.T) {
	env := newTestEnv(t)
	poster := env.seedUser(t, "u-poster", "poster")

	post := env.publish(t, &pipeline.CreatePostInput{
		PosterID: poster.ID,
		Content:  "shipping a thing #golang",
		Tags:     "release, golang",
	}).Post

	rows, err := env.store.DB().Query("SELECT tag_name FROM tags WHERE post_id = ? ORDER BY rowid", post.ID)
	if err != nil {
		t.Fatalf("querying tags: %v", err)
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			t.Fatalf("scanning tag: %v", err)
		}
		tags = append(tags, tag)
	}
	want := []string{"release", "golang"}
	if len(tags) != len(want) {
		t.Fatalf("tags = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("tag %d = %q, want %q", i, tags[i], want[i])
		}
	}
}

func TestCreatePost_emojiAssociations(t *testing.T) {
	env := newTestEnv(t)
	poster := env.seedUser(t, "u-poster", "poster")
	testutil.SeedEmoji(t, env.store, "e-tada", ":tada:", "https://social.example.org/emoji/tada.png")
	testutil.SeedEmoji(t, env.store, "e-blobcat", ":blobcat:", "https://social.example.org/emoji/blobcat.png")

	post := env.publish(t, &pipeline.CreatePostInput{
		PosterID: poster.ID,
		Content:  "shipped :tada: :nosuchcode:",
	}).Post

	ids, err := env.store.FindPostEmojiIDs(context.Background(), post.ID)
	if err != nil {
		t.Fatalf("FindPostEmojiIDs() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "e-tada" {
		t.Errorf("emoji rows = %v, want [e-tada]", ids)
	}

	// Editing cascade-replaces the emoji rows like every other association.
	env.publish(t, &pipeline.CreatePostInput{
		PosterID:   poster.ID,
		Content:    "actually :blobcat:",
		EditPostID: post.ID,
	})
	ids, err = env.store.FindPostEmojiIDs(context.Background(), post.ID)
	if err != nil {
		t.Fatalf("FindPostEmojiIDs() after edit error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "e-blobcat" {
		t.Errorf("emoji rows after edit = %v, want [e-blobcat]", ids)
	}

	// The content warning is part of the scanned surface.
	warned := env.publish(t, &pipeline.CreatePostInput{
		PosterID:       poster.ID,
		Content:        "plain text",
		ContentWarning: "celebration inside :tada:",
	}).Post
	ids, err = env.store.FindPostEmojiIDs(context.Background(), warned.ID)
	if err != nil {
		t.Fatalf("FindPostEmojiIDs() for warned post error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "e-tada" {
		t.Errorf("emoji rows from warning = %v, want [e-tada]", ids)
	}
}

func TestCreatePost_nsfwPosterGetsDefaultWarning(t *testing.T) {
	env := newTestEnv(t)
	nsfw := &model.User{ID: "u-nsfw", Handle: "spicy", NSFW: true}
	testutil.SeedUser(t, env.store, nsfw)

	post := env.publish(t, &pipeline.CreatePostInput{
		PosterID: nsfw.ID,
		Content:  "a post",
	}).Post

	if post.ContentWarning != pipeline.DefaultNSFWWarning {
		t.Errorf("content warning = %q, want default NSFW warning", post.ContentWarning)
	}
}

func TestCreatePost_answersAskOnce(t *testing.T) {
	env := newTestEnv(t)
	poster := env.seedUser(t, "u-poster", "poster")
	asker := env.seedUser(t, "u-asker", "asker")
	askID := testutil.SeedAsk(t, env.store, poster.ID, asker.ID)

	post := env.publish(t, &pipeline.CreatePostInput{
		PosterID: poster.ID,
		Content:  "the answer",
		AskID:    askID,
	}).Post

	var answered bool
	var linkedPost string
	err := env.store.DB().QueryRow("SELECT answered, post_id FROM asks WHERE id = ?", askID).
		Scan(&answered, &linkedPost)
	if err != nil {
		t.Fatalf("reading ask: %v", err)
	}
	if !answered || linkedPost != post.ID {
		t.Errorf("ask state = (%v, %q), want (true, %q)", answered, linkedPost, post.ID)
	}

	// The asker is auto-mentioned so they hear about the answer.
	byType := notificationTypes(t, env, post.ID)
	if got := byType[model.NotificationMention]; len(got) != 1 || got[0] != asker.ID {
		t.Errorf("MENTION notifications = %v, want [%s]", got, asker.ID)
	}

	// A second post referencing the same ask leaves it linked to the first.
	second := env.publish(t, &pipeline.CreatePostInput{
		PosterID: poster.ID,
		Content:  "another answer",
		AskID:    askID,
	}).Post
	err = env.store.DB().QueryRow("SELECT post_id FROM asks WHERE id = ?", askID).Scan(&linkedPost)
	if err != nil {
		t.Fatalf("re-reading ask: %v", err)
	}
	if linkedPost != post.ID {
		t.Errorf("ask re-linked to %q, want %q (second post %q)", linkedPost, post.ID, second.ID)
	}
}

func TestCreatePost_mediaAttachment(t *testing.T) {
	env := newTestEnv(t)
	poster := env.seedUser(t, "u-poster", "poster")
	testutil.SeedMedia(t, env.store, "m1")
	testutil.SeedMedia(t, env.store, "m2")

	result := env.publish(t, &pipeline.CreatePostInput{
		PosterID: poster.ID,
		Content:  "with pictures",
		Medias: []model.MediaInput{
			{ID: "m1", Description: "first"},
			{ID: "m2", Description: "second", NSFW: true},
		},
	})

	// The detail update runs detached; wait for it before asserting.
	if err := <-result.MediaReorder; err != nil {
		t.Fatalf("media reorder error = %v", err)
	}

	rows, err := env.store.DB().Query(
		"SELECT id, description, nsfw, media_order FROM medias WHERE post_id = ? ORDER BY media_order", result.Post.ID)
	if err != nil {
		t.Fatalf("querying medias: %v", err)
	}
	defer rows.Close()
	type mediaRow struct {
		id, desc string
		nsfw     bool
		order    int
	}
	var got []mediaRow
	for rows.Next() {
		var m mediaRow
		if err := rows.Scan(&m.id, &m.desc, &m.nsfw, &m.order); err != nil {
			t.Fatalf("scanning media: %v", err)
		}
		got = append(got, m)
	}
	if len(got) != 2 {
		t.Fatalf("attached medias = %d, want 2", len(got))
	}
	if got[0].id != "m1" || got[0].order != 0 || got[0].desc != "first" {
		t.Errorf("media 0 = %+v", got[0])
	}
	if got[1].id != "m2" || got[1].order != 1 || !got[1].nsfw {
		t.Errorf("media 1 = %+v", got[1])
	}
}

func TestDispatch(t *testing.T) {
	env := newTestEnv(t)
	poster := env.seedUser(t, "u-poster", "poster")

	t.Run("new post enqueued keyed by post id", func(t *testing.T) {
		post := env.publish(t, &pipeline.CreatePostInput{
			PosterID: poster.ID,
			Content:  "federate me",
		}).Post

		env.svc.Dispatch(context.Background(), post, poster.ID, false)

		job, ok := env.queue.Jobs[post.ID]
		if !ok {
			t.Fatalf("no job enqueued for post %s", post.ID)
		}
		if job.PostID != post.ID || job.PetitionBy != poster.ID {
			t.Errorf("job = %+v", job)
		}
	})

	t.Run("local-only post never leaves", func(t *testing.T) {
		post := env.publish(t, &pipeline.CreatePostInput{
			PosterID: poster.ID,
			Content:  "stays here",
			Privacy:  model.PrivacyLocalOnly,
		}).Post

		env.svc.Dispatch(context.Background(), post, poster.ID, false)

		if _, ok := env.queue.Jobs[post.ID]; ok {
			t.Error("local-only post was enqueued")
		}
	})

	t.Run("edit goes down the edit path", func(t *testing.T) {
		post := env.publish(t, &pipeline.CreatePostInput{
			PosterID: poster.ID,
			Content:  "v1",
		}).Post

		env.svc.Dispatch(context.Background(), post, poster.ID, true)

		if _, ok := env.queue.Jobs[post.ID]; ok {
			t.Error("edit was enqueued as a new distribution")
		}
		if len(env.editFed.Posts) != 1 || env.editFed.Posts[0].ID != post.ID {
			t.Errorf("edit federator calls = %v", env.editFed.Posts)
		}
	})
}
