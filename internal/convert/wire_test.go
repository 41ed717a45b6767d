package convert

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/wire"
)

func TestPushCase_DropsLocalFields(t *testing.T) {
	t.Parallel()

	sid := int64(40)
	holder := int64(3)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := model.Case{
		ID: 7, CaseNumber: "C-7", CustomerName: "Acme", CaseType: "support",
		Priority: model.PriorityHigh, Status: model.StatusInProgress,
		BookedOutBy: &holder, BookedOutAt: &at, CreatedAt: at, UpdatedAt: at,
		ServerID: &sid, Synced: false, Rev: 4,
	}
	b, err := json.Marshal(PushCase(c))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, banned := range []string{`"id"`, `"server_id"`, `"synced"`, `"local_rev"`} {
		if strings.Contains(s, banned) {
			t.Fatalf("push body must not carry %s: %s", banned, s)
		}
	}
	if !strings.Contains(s, `"booked_out_by":3`) || !strings.Contains(s, `"status":"in_progress"`) {
		t.Fatalf("lock pair missing: %s", s)
	}
}

func TestFromWireCase_SetsServerIdentity(t *testing.T) {
	t.Parallel()

	got := FromWireCase(wire.Case{ID: 12, CaseNumber: "C-1", Priority: "low", Status: "open"})
	if got.ServerID == nil || *got.ServerID != 12 || !got.Synced {
		t.Fatalf("server identity not set: %+v", got)
	}
	if got.Priority != model.PriorityLow || got.Status != model.StatusOpen {
		t.Fatalf("enum mismatch: %+v", got)
	}
	if FromWireCase(wire.Case{}).ServerID != nil {
		t.Fatalf("zero id must not become a server id")
	}
	if out := FromWireCases(nil); out == nil || len(out) != 0 {
		t.Fatalf("want empty non-nil slice")
	}
}

func TestAttendance_RoundTrip(t *testing.T) {
	t.Parallel()

	in := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	out := in.Add(8 * time.Hour)
	a := model.Attendance{ID: 5, UserID: 2, CheckIn: in, CheckOut: &out, TotalBreakMinutes: 15,
		Status: model.AttendanceCompleted, Date: "2026-03-02"}

	p := PushAttendance(a)
	if p.ID != 0 || p.UserID != 2 || p.TotalBreakMinutes != 15 {
		t.Fatalf("push mismatch: %+v", p)
	}
	p.ID = 99
	back := FromWireAttendance(p)
	if *back.ServerID != 99 || back.Status != model.AttendanceCompleted || !back.CheckOut.Equal(out) {
		t.Fatalf("roundtrip mismatch: %+v", back)
	}
}

func TestCreated_ServerID(t *testing.T) {
	t.Parallel()

	var flat, wrapped wire.Created
	if err := json.Unmarshal([]byte(`{"id": 8}`), &flat); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"message":"Checked in successfully","attendance":{"id": 9}}`), &wrapped); err != nil {
		t.Fatal(err)
	}
	if flat.ServerID() != 8 || wrapped.ServerID() != 9 {
		t.Fatalf("got %d and %d", flat.ServerID(), wrapped.ServerID())
	}
}

func TestHistoryAndBookOut(t *testing.T) {
	t.Parallel()

	uid := int64(3)
	h := ToWireHistory(model.CaseHistory{ID: 1, CaseID: 7, UserID: &uid, Action: model.ActionClosed}, 40)
	if h.CaseID != 40 || *h.UserID != 3 {
		t.Fatalf("history mismatch: %+v", h)
	}

	holder := int64(9)
	w := ToWireBookOut(model.BookOutResult{Conflict: true, HeldBy: &holder, Hint: "pick a different case"})
	if w.Case != nil || !w.Conflict || *w.HeldBy != 9 {
		t.Fatalf("book out mismatch: %+v", w)
	}
	r := FromWireBookOut(wire.BookOutResponse{Case: &wire.Case{ID: 4, Status: "in_progress"}})
	if r.Conflict || r.Case == nil || r.Case.Status != model.StatusInProgress {
		t.Fatalf("book out mismatch: %+v", r)
	}

	u := ToWireUser(model.User{ID: 2, Username: "bob", PasswordHash: "secret", Role: model.RoleAdmin})
	b, _ := json.Marshal(u)
	if strings.Contains(string(b), "secret") {
		t.Fatalf("hash leaked: %s", b)
	}
	if back := FromWireUser(u); back.Role != model.RoleAdmin || *back.ServerID != 2 {
		t.Fatalf("user mismatch: %+v", back)
	}
}
