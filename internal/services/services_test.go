package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/dmitrijs2005/goterm/internal/common"
	"github.com/dmitrijs2005/goterm/internal/logging"
	"github.com/dmitrijs2005/goterm/internal/models"
	"github.com/dmitrijs2005/goterm/internal/repositories/repomanager"
	"github.com/dmitrijs2005/goterm/internal/storage"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type removed struct {
	ids []string
	err error
}

func (r *removed) Delete(_ context.Context, id string) error {
	r.ids = append(r.ids, id)
	return r.err
}

func (r *removed) Disconnect(_ context.Context, id string) error {
	r.ids = append(r.ids, "disconnect:"+id)
	return nil
}

func setup(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestProfileService_SaveAssignsIDAndNormalizes(t *testing.T) {
	ctx := context.Background()
	svc := NewProfileService(setup(t), repomanager.NewSQLiteRepositoryManager(), &removed{}, logging.Nop())

	saved, err := svc.Save(ctx, models.Profile{Host: " 10.0.0.5 ", Username: "root", UseKeyring: true})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	want := models.Profile{
		ID: saved.ID, Name: "10.0.0.5", Host: "10.0.0.5", Port: 22, Username: "root",
		AuthType: models.AuthPassword, UseKeyring: true, KnownHostsPolicy: models.PolicyStrict,
	}
	if diff := cmp.Diff(want, saved); diff != "" {
		t.Errorf("saved profile mismatch (-want +got):\n%s", diff)
	}

	got, err := svc.Get(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved, got)

	// update keeps the id
	saved.Name = "renamed"
	_, err = svc.Save(ctx, saved)
	require.NoError(t, err)
	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "renamed", all[0].Name)
}

func TestProfileService_SaveRejectsInvalid(t *testing.T) {
	svc := NewProfileService(setup(t), repomanager.NewSQLiteRepositoryManager(), &removed{}, logging.Nop())

	_, err := svc.Save(context.Background(), models.Profile{Host: "h", Username: "u"})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestProfileService_DeleteRemovesCredentials(t *testing.T) {
	ctx := context.Background()
	creds := &removed{}
	svc := NewProfileService(setup(t), repomanager.NewSQLiteRepositoryManager(), creds, logging.Nop())

	p, err := svc.Save(ctx, models.Profile{Host: "h", Username: "u", AuthType: models.AuthAgent})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, p.ID))
	assert.Equal(t, []string{p.ID}, creds.ids)

	assert.ErrorIs(t, svc.Delete(ctx, p.ID), common.ErrNotFound)
}

func TestProfileService_DeleteRefusesTunnelTarget(t *testing.T) {
	ctx := context.Background()
	db := setup(t)
	rm := repomanager.NewSQLiteRepositoryManager()
	creds := &removed{}
	ssh := NewProfileService(db, rm, creds, logging.Nop())
	my := NewMySQLProfileService(db, rm, creds, nil, logging.Nop())

	p, err := ssh.Save(ctx, models.Profile{Host: "bastion", Username: "u", AuthType: models.AuthAgent})
	require.NoError(t, err)
	mp, err := my.Save(ctx, models.MySQLProfile{
		Name: "shop", Host: "db.internal", Username: "app",
		ConnectionType: models.ConnectionSSHTunnel, SSHProfileID: p.ID,
	})
	require.NoError(t, err)

	assert.ErrorIs(t, ssh.Delete(ctx, p.ID), common.ErrInvalidState)
	_, err = ssh.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, creds.ids)

	require.NoError(t, my.Delete(ctx, mp.ID))
	require.NoError(t, ssh.Delete(ctx, p.ID))
}

func TestMySQLProfileService_SaveValidatesTunnelTarget(t *testing.T) {
	ctx := context.Background()
	svc := NewMySQLProfileService(setup(t), repomanager.NewSQLiteRepositoryManager(), &removed{}, nil, logging.Nop())

	_, err := svc.Save(ctx, models.MySQLProfile{
		Host: "db", Username: "u", ConnectionType: models.ConnectionSSHTunnel, SSHProfileID: "ghost",
	})
	assert.ErrorIs(t, err, common.ErrValidation)

	saved, err := svc.Save(ctx, models.MySQLProfile{Host: "db", Username: "u"})
	require.NoError(t, err)
	assert.Equal(t, 3306, saved.Port)
	assert.Equal(t, models.ConnectionDirect, saved.ConnectionType)
}

func TestMySQLProfileService_DeleteDisconnectsFirst(t *testing.T) {
	ctx := context.Background()
	rec := &removed{}
	svc := NewMySQLProfileService(setup(t), repomanager.NewSQLiteRepositoryManager(), rec, nil, logging.Nop())
	svc.SetDisconnecter(rec)

	mp, err := svc.Save(ctx, models.MySQLProfile{Host: "db", Username: "u"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, mp.ID))
	assert.Equal(t, []string{"disconnect:" + mp.ID, mp.ID}, rec.ids)

	_, err = svc.Get(ctx, mp.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestProfileService_CredentialFailureIsReported(t *testing.T) {
	ctx := context.Background()
	creds := &removed{err: errors.New("keychain locked")}
	svc := NewProfileService(setup(t), repomanager.NewSQLiteRepositoryManager(), creds, logging.Nop())

	p, err := svc.Save(ctx, models.Profile{Host: "h", Username: "u", AuthType: models.AuthAgent})
	require.NoError(t, err)

	err = svc.Delete(ctx, p.ID)
	assert.ErrorContains(t, err, "keychain locked")
}
