package catalog

import (
	"testing"

	"github.com/overwatch-scan/overwatch/internal/domain"
)

func spawn(id string, offset int) domain.Spawn {
	return domain.Spawn{ID: id, OffsetInHourS: offset}
}

func TestLoad_SortsByOffset(t *testing.T) {
	c := New()
	c.Load([]domain.Spawn{spawn("c", 300), spawn("a", 10), spawn("b", 100)}, nil)

	got := c.IterInOffsetOrder(0)
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestIterInOffsetOrder_SkipsBeforeCutoff(t *testing.T) {
	c := New()
	c.Load([]domain.Spawn{spawn("a", 10), spawn("b", 100), spawn("c", 300)}, nil)

	got := c.IterInOffsetOrder(100)
	if len(got) != 2 || got[0].ID != "b" {
		t.Fatalf("got %v, want spawns from offset 100 onward", got)
	}
}

func TestAfterLast(t *testing.T) {
	c := New()
	c.Load([]domain.Spawn{spawn("a", 10), spawn("b", 3000)}, nil)

	if c.AfterLast(2999) {
		t.Error("AfterLast(2999) should be false, max offset is 3000")
	}
	if !c.AfterLast(3001) {
		t.Error("AfterLast(3001) should be true, max offset is 3000")
	}
}

func TestAfterLast_EmptyCatalog(t *testing.T) {
	c := New()
	if !c.AfterLast(0) {
		t.Error("an empty catalog should report AfterLast true so the hour baseline always advances")
	}
}

func TestGetStartPoint_ClosestNotAfter(t *testing.T) {
	c := New()
	c.Load([]domain.Spawn{spawn("a", 10), spawn("b", 100), spawn("c", 300)}, nil)

	got, ok := c.GetStartPoint(150)
	if !ok || got.ID != "b" {
		t.Fatalf("GetStartPoint(150) = %+v, %v, want spawn b", got, ok)
	}
}

func TestGetStartPoint_NoneBeforeCutoff(t *testing.T) {
	c := New()
	c.Load([]domain.Spawn{spawn("a", 100)}, nil)

	_, ok := c.GetStartPoint(50)
	if ok {
		t.Fatal("expected no start point when every spawn is after the cutoff")
	}
}

func TestMysteries_GetAndPark(t *testing.T) {
	c := New()
	c.Load(nil, []domain.Mystery{{}, {}, {}})

	if c.MysteriesCount() != 3 {
		t.Fatalf("MysteriesCount = %d, want 3", c.MysteriesCount())
	}
	got := c.GetMysteries(2)
	if len(got) != 2 || c.MysteriesCount() != 1 {
		t.Fatalf("after GetMysteries(2): got %d, remaining %d", len(got), c.MysteriesCount())
	}
	c.ParkMystery(domain.Mystery{})
	if c.MysteriesCount() != 2 {
		t.Fatalf("MysteriesCount after park = %d, want 2", c.MysteriesCount())
	}
}
