package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uconnect/uconnect/internal/models"
	"github.com/uconnect/uconnect/pkg/crypto"
	apperrors "github.com/uconnect/uconnect/pkg/errors"
)

func login(f *fixture, identifier, password string) (*LoginResult, error) {
	return f.accounts.Login(context.Background(), LoginInput{Identifier: identifier, Password: password})
}

func TestLoginRequiresVerification(t *testing.T) {
	f := newFixture(t)
	res := f.signup(t, "ada", "ada@campus.edu")

	_, err := login(f, "ada@campus.edu", testPassword)
	assert.ErrorIs(t, err, ErrNotVerified)

	_, err = f.verification.Consume(context.Background(), res.Token)
	require.NoError(t, err)

	out, err := login(f, "ada@campus.edu", testPassword)
	require.NoError(t, err)
	assert.Equal(t, UserHomePath, out.Redirect)

	claims, err := f.tokens.VerifySession(out.Token)
	require.NoError(t, err)
	assert.Equal(t, res.Account.ID, claims.AccountID)
	assert.Equal(t, "user", claims.Role())
}

func TestLoginRejectsOutOfDomainAccountsEvenWhenVerified(t *testing.T) {
	f := newFixture(t)
	f.createAccount(t, "mallory", "mallory@gmail.com", models.RoleUser, true)
	f.createAccount(t, "eve", "eve@gmail.com", models.RoleUser, false)

	_, err := login(f, "mallory", testPassword)
	assert.ErrorIs(t, err, ErrDomainNotAllowed)
	_, err = login(f, "eve", testPassword)
	assert.ErrorIs(t, err, ErrDomainNotAllowed)
}

func TestLoginAdminBypassesGates(t *testing.T) {
	f := newFixture(t)
	f.createAccount(t, "root", "root@elsewhere.org", models.RoleAdmin, false)

	out, err := login(f, "ROOT", testPassword)
	require.NoError(t, err)
	assert.Equal(t, AdminHomePath, out.Redirect)

	claims, err := f.tokens.VerifySession(out.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Role())
}

func TestLoginInvalidCredentialsDoNotLeakField(t *testing.T) {
	f := newFixture(t)
	f.createAccount(t, "ada", "ada@campus.edu", models.RoleUser, true)

	_, unknown := login(f, "nobody@campus.edu", testPassword)
	_, wrong := login(f, "ada@campus.edu", "not-the-password")
	require.ErrorIs(t, unknown, ErrInvalidCredentials)
	require.ErrorIs(t, wrong, ErrInvalidCredentials)
	assert.Equal(t, unknown.Error(), wrong.Error())

	_, err := login(f, "  ADA@Campus.EDU ", testPassword)
	assert.NoError(t, err)

	_, err = login(f, "", "")
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestEmptyAllowListAcceptsAnyDomain(t *testing.T) {
	f := newFixture(t, withDomains())
	f.createAccount(t, "ada", "ada@gmail.com", models.RoleUser, true)

	_, err := login(f, "ada", testPassword)
	assert.NoError(t, err)
}

func TestSignupValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.accounts.Signup(ctx, SignupInput{Name: "Ada", Username: "ada", Email: "ada@gmail.com", Password: testPassword})
	assert.ErrorIs(t, err, ErrSignupDomain)

	_, err = f.accounts.Signup(ctx, SignupInput{Name: "Ada", Username: "ada", Email: "ada@campus.edu", Password: "12345"})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = f.accounts.Signup(ctx, SignupInput{Username: "ada", Email: "ada@campus.edu", Password: testPassword})
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	f.createAccount(t, "taken", "someone@campus.edu", models.RoleUser, true)
	_, err = f.accounts.Signup(ctx, SignupInput{Name: "X", Username: "Taken", Email: "x@campus.edu", Password: testPassword})
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestSignupDoesNotReissueAnotherAddressesPendingAccount(t *testing.T) {
	f := newFixture(t)
	pending := f.signup(t, "ada", "ada@campus.edu")

	_, err := f.accounts.Signup(context.Background(), SignupInput{
		Name: "Imposter", Username: "ada", Email: "imposter@campus.edu", Password: testPassword,
	})
	assert.ErrorIs(t, err, ErrAccountExists)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1, "no second link for the pending account")
	assert.Equal(t, pending.Token, f.reload(t, pending.Account.ID).PendingToken)
}

func TestDomainAllowed(t *testing.T) {
	domains := []string{"campus.edu", "@uni.ac.uk"}
	assert.True(t, DomainAllowed("a@campus.edu", domains))
	assert.True(t, DomainAllowed("a@CS.Campus.edu", domains))
	assert.True(t, DomainAllowed("a@uni.ac.uk", domains))
	assert.False(t, DomainAllowed("a@notcampus.edu", domains))
	assert.False(t, DomainAllowed("a@campus.edu.evil.com", domains))
	assert.False(t, DomainAllowed("campus.edu", domains))
	assert.True(t, DomainAllowed("anyone@anywhere", nil))
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.createAccount(t, "ada", "ada@campus.edu", models.RoleUser, true)
	f.createAccount(t, "grace", "grace@campus.edu", models.RoleUser, true)

	_, err := f.accounts.UpdateProfile(ctx, ada.ID, "Ada L", "Grace")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	updated, err := f.accounts.UpdateProfile(ctx, ada.ID, " Ada Lovelace ", "Lovelace")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", updated.Name)
	assert.Equal(t, "lovelace", f.reload(t, ada.ID).Username)

	_, err = f.accounts.UpdateProfile(ctx, ada.ID, "Ada", "lovelace")
	assert.NoError(t, err, "keeping your own username is allowed")

	_, err = f.accounts.UpdateProfile(ctx, "missing", "x", "y")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.createAccount(t, "ada", "ada@campus.edu", models.RoleUser, true)

	err := f.accounts.ChangePassword(ctx, ada.ID, "wrong-old", "new-password", RequestMeta{})
	assert.ErrorIs(t, err, ErrOldPasswordIncorrect)

	require.NoError(t, f.accounts.ChangePassword(ctx, ada.ID, testPassword, "new-password", RequestMeta{}))
	assert.True(t, crypto.VerifyPassword(f.reload(t, ada.ID).Password, "new-password"))

	_, err = login(f, "ada", testPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUpdateAvatarQuarantinesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.createAccount(t, "ada", "ada@campus.edu", models.RoleUser, true)

	first, err := f.accounts.UpdateAvatar(ctx, ada.ID, AvatarUpload{Filename: "me.png", Size: 3, Reader: strings.NewReader("one")})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(first, "/uploads/"))
	assert.True(t, strings.HasSuffix(first, "-me.png"))

	f.clock.Advance(1)
	second, err := f.accounts.UpdateAvatar(ctx, ada.ID, AvatarUpload{Filename: "me2.jpg", Size: 3, Reader: strings.NewReader("two")})
	require.NoError(t, err)
	assert.Equal(t, second, f.reload(t, ada.ID).Avatar)

	oldName := strings.TrimPrefix(first, "/uploads/")
	_, err = os.Stat(filepath.Join(f.store.UploadDir(), oldName))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(f.store.UploadDir(), "deleted", oldName))
	assert.NoError(t, err)

	_, err = f.accounts.UpdateAvatar(ctx, ada.ID, AvatarUpload{Filename: "clip.mp4", Size: 3, Reader: strings.NewReader("vid")})
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
}

func TestListAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createAccount(t, "ada", "ada@campus.edu", models.RoleUser, true)
	f.createAccount(t, "grace", "hopper@campus.edu", models.RoleUser, true)
	f.createAccount(t, "alan", "turing@campus.edu", models.RoleUser, false)

	all, total, err := f.accounts.List(ctx, ListAccountsOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, all, 3)

	found, total, err := f.accounts.List(ctx, ListAccountsOptions{Query: "HOPPER"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, found, 1)
	assert.Equal(t, "grace", found[0].Username)
}

func TestEnsureAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed := AdminSeed{Name: "UConnect Admin", Username: "uconnect", Email: "admin@uconnect.com", Password: "admin-password"}

	admin, err := f.accounts.EnsureAdmin(ctx, seed)
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())
	assert.True(t, admin.Verified)

	_, err = f.accounts.EnsureAdmin(ctx, seed)
	assert.ErrorIs(t, err, ErrAdminExists)

	out, err := login(f, "admin@uconnect.com", "admin-password")
	require.NoError(t, err)
	assert.Equal(t, AdminHomePath, out.Redirect)
}

func TestDeleteAccountRemovesRowAndAudits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.createAccount(t, "ada", "ada@campus.edu", models.RoleUser, true)

	_, err := f.accounts.Delete(ctx, ada.ID, ada.ID, "self", RequestMeta{IPAddress: "10.0.0.1"})
	require.NoError(t, err)

	_, err = f.accounts.Get(ctx, ada.ID)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	_, err = f.accounts.Delete(ctx, ada.ID, ada.ID, "self", RequestMeta{})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	logs, _, err := f.audit.List(ctx, AuditListOptions{Filters: AuditFilters{Action: AuditAccountDelete}})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "10.0.0.1", logs[0].IPAddress)
	assert.Equal(t, "self", logs[0].Metadata["trigger"])
}
