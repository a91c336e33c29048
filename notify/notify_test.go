package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/nhalm/tapcount/store"
)

func TestRegistry_Lifecycle(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()
	ctx := context.Background()
	r := NewRegistry(st)

	got, err := r.Get(ctx, "7")
	if err != nil || got != nil {
		t.Fatalf("Get() on empty = %+v, %v; want nil, nil", got, err)
	}

	want := Details{URL: "https://api.example.com/notify", Token: "tok"}
	if err := r.Set(ctx, "7", want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err = r.Get(ctx, "7")
	if err != nil || got == nil || *got != want {
		t.Errorf("Get() = %+v, %v; want %+v", got, err, want)
	}

	if err := r.Delete(ctx, "7"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got, _ := r.Get(ctx, "7"); got != nil {
		t.Errorf("Get() after Delete = %+v, want nil", got)
	}
	if err := r.Delete(ctx, "7"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestRegistry_CorruptValue(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()
	ctx := context.Background()

	if err := st.Set(ctx, Key("7"), "{not json"); err != nil {
		t.Fatal(err)
	}

	got, err := NewRegistry(st).Get(ctx, "7")
	if err != nil || got != nil {
		t.Errorf("Get() = %+v, %v; want nil, nil", got, err)
	}
}

func TestRegistry_StoreError(t *testing.T) {
	r := NewRegistry(store.Unavailable{})
	if _, err := r.Get(context.Background(), "7"); !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Get() error = %v, want ErrUnavailable", err)
	}
}
