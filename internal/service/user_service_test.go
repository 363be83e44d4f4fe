package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/feedlog/internal/db"
)

func TestUserServiceAuthenticate(t *testing.T) {
	gdb := setupServiceTestDB(t, "user-auth")
	svc := NewUserService(gdb, nil, nil)
	alice := createTestUser(t, gdb, "alice", db.RoleUser)
	ctx := context.Background()

	user, err := svc.Authenticate(ctx, " alice ", "secret123")
	if err != nil || user.ID != alice.ID {
		t.Fatalf("expected successful login, got user=%v err=%v", user, err)
	}
	if _, err := svc.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for bad password, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody", "secret123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}

	if err := gdb.Model(&db.User{}).Where("id = ?", alice.ID).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "alice", "secret123"); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}
}

func TestUserServiceCreateAndList(t *testing.T) {
	gdb := setupServiceTestDB(t, "user-create")
	sink := &memoryAuditSink{}
	recorder := NewAuditRecorder(16, sink)
	svc := NewUserService(gdb, nil, recorder)
	root := ActorFromUser(createTestUser(t, gdb, "root", db.RoleAdmin))
	ctx := context.Background()

	if _, err := svc.Create(ctx, &Actor{ID: "x", Role: db.RoleUser}, UserInput{Username: "eve", Password: "secret123"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	invalid := []struct {
		input UserInput
		want  error
	}{
		{UserInput{Username: " ", Password: "secret123"}, ErrUsernameRequired},
		{UserInput{Username: "carol", Password: "123"}, ErrPasswordTooShort},
		{UserInput{Username: "carol", Password: "secret123", Role: "owner"}, ErrInvalidRole},
		{UserInput{Username: "root", Password: "secret123"}, ErrUsernameTaken},
	}
	for _, tt := range invalid {
		if _, err := svc.Create(ctx, root, tt.input); !errors.Is(err, tt.want) {
			t.Fatalf("create %+v: expected %v, got %v", tt.input, tt.want, err)
		}
	}

	for _, name := range []string{"Carol Smith", "dave", "erin"} {
		user, err := svc.Create(ctx, root, UserInput{Username: name, Password: "secret123"})
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if user.Role != db.RoleUser || !user.IsActive {
			t.Fatalf("unexpected defaults for %s: %+v", name, user)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := svc.Authenticate(ctx, "dave", "secret123"); err != nil {
		t.Fatalf("created user should be able to log in: %v", err)
	}

	page, err := svc.List(ctx, root, UserFilter{SortBy: "username", Order: "asc", Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Users) != 2 || !page.HasMore || page.Users[0].Username != "Carol Smith" {
		t.Fatalf("unexpected first page %+v", page)
	}

	beyond, err := svc.List(ctx, root, UserFilter{Page: 500000000000000000, Limit: 2})
	if err != nil || len(beyond.Users) != 0 || beyond.HasMore {
		t.Fatalf("expected empty page for overflowing page number, got %+v err=%v", beyond, err)
	}

	searched, err := svc.List(ctx, root, UserFilter{Search: "er"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(searched.Users) != 1 || searched.Users[0].Username != "erin" || searched.HasMore {
		t.Fatalf("unexpected search result %+v", searched)
	}

	flushAudit(t, recorder)
	if got := sink.actions(); len(got) != 3 {
		t.Fatalf("expected 3 CREATE_USER entries, got %v", got)
	}
}

func TestUserServiceUpdateGuardsOwnRole(t *testing.T) {
	gdb := setupServiceTestDB(t, "user-update")
	svc := NewUserService(gdb, nil, nil)
	rootUser := createTestUser(t, gdb, "root", db.RoleAdmin)
	alice := createTestUser(t, gdb, "alice", db.RoleUser)
	root := ActorFromUser(rootUser)
	ctx := context.Background()

	demote := db.RoleUser
	if _, err := svc.Update(ctx, root, rootUser.ID, UserUpdate{Role: &demote}); !errors.Is(err, ErrCannotDemoteSelf) {
		t.Fatalf("expected ErrCannotDemoteSelf, got %v", err)
	}
	if _, err := svc.Update(ctx, root, alice.ID, UserUpdate{}); !errors.Is(err, ErrNoUserUpdates) {
		t.Fatalf("expected ErrNoUserUpdates, got %v", err)
	}

	inactive := false
	promote := db.RoleAdmin
	updated, err := svc.Update(ctx, root, alice.ID, UserUpdate{IsActive: &inactive, Role: &promote})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.IsActive || updated.Role != db.RoleAdmin {
		t.Fatalf("update not applied: %+v", updated)
	}
}

func TestUserServiceDeleteRemovesPosts(t *testing.T) {
	gdb := setupServiceTestDB(t, "user-delete")
	svc := NewUserService(gdb, nil, nil)
	rootUser := createTestUser(t, gdb, "root", db.RoleAdmin)
	alice := createTestUser(t, gdb, "alice", db.RoleUser)
	root := ActorFromUser(rootUser)
	ctx := context.Background()

	createTestPost(t, gdb, "a1", alice, time.Now(), 0, 1)
	createTestPost(t, gdb, "a2", alice, time.Now())

	if err := svc.Delete(ctx, root, rootUser.ID); !errors.Is(err, ErrCannotDeleteSelf) {
		t.Fatalf("expected ErrCannotDeleteSelf, got %v", err)
	}
	if err := svc.Delete(ctx, root, alice.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, root, alice.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound after delete, got %v", err)
	}

	var posts, media int64
	gdb.Model(&db.Post{}).Count(&posts)
	gdb.Model(&db.Media{}).Count(&media)
	if posts != 0 || media != 0 {
		t.Fatalf("expected posts and media removed, posts=%d media=%d", posts, media)
	}
}

func TestUserServicePasswords(t *testing.T) {
	gdb := setupServiceTestDB(t, "user-password")
	svc := NewUserService(gdb, nil, nil)
	root := ActorFromUser(createTestUser(t, gdb, "root", db.RoleAdmin))
	alice := createTestUser(t, gdb, "alice", db.RoleUser)
	ctx := context.Background()

	password, err := svc.ResetPassword(ctx, root, alice.ID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(password) != 12 {
		t.Fatalf("expected 12-char password, got %q", password)
	}
	if _, err := svc.Authenticate(ctx, "alice", password); err != nil {
		t.Fatalf("login with reset password: %v", err)
	}

	actor := ActorFromUser(alice)
	if err := svc.ChangePassword(ctx, actor, "wrong", "another1"); !errors.Is(err, ErrWrongCurrentPassword) {
		t.Fatalf("expected ErrWrongCurrentPassword, got %v", err)
	}
	if err := svc.ChangePassword(ctx, actor, password, "123"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := svc.ChangePassword(ctx, actor, password, "another1"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "alice", "another1"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestUserServiceDeleteRemovesStoredFiles(t *testing.T) {
	fx, users := newPostServiceFixture(t, "user-delete-files")
	alice, bob, rootUser := users()
	ctx := context.Background()
	svc := NewUserService(fx.svc.db, fx.store, nil)

	for i := 0; i < 2; i++ {
		if _, err := fx.svc.Create(ctx, ActorFromUser(alice), PostInput{
			Text:        "with upload",
			Attachments: []AttachmentInput{{Data: pngHeader, MimeType: "image/png"}},
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := fx.svc.Upload(ctx, ActorFromUser(alice), AttachmentInput{Data: pngHeader, MimeType: "image/png"}); err != nil {
		t.Fatalf("pending upload: %v", err)
	}
	if _, err := fx.svc.Create(ctx, ActorFromUser(bob), PostInput{
		Text:        "bob keeps his",
		Attachments: []AttachmentInput{{Data: pngHeader, MimeType: "image/png"}},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if n := storedFiles(t, fx.store.Dir()); n != 4 {
		t.Fatalf("expected 4 stored files before delete, found %d", n)
	}

	if err := svc.Delete(ctx, ActorFromUser(rootUser), alice.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n := storedFiles(t, fx.store.Dir()); n != 1 {
		t.Fatalf("expected only bob's file to remain, found %d", n)
	}

	var uploads int64
	fx.svc.db.Model(&db.Upload{}).Where("owner_id = ?", alice.ID).Count(&uploads)
	if uploads != 0 {
		t.Fatalf("expected pending uploads of the deleted user to be removed, got %d", uploads)
	}
}
