package upstream_test

import (
	"testing"

	"github.com/lumehara/danmakucast/internal/upstream"
)

func TestDecodeEnvelope_Chat(t *testing.T) {
	t.Parallel()
	raw := `{"Type":1,"Data":"{\"MsgId\":42,\"User\":{\"Id\":7,\"Nickname\":\"小明\",\"Gender\":1},\"Content\":\"你好\",\"Owner\":{\"Nickname\":\"主播\"}}"}`
	ev, err := upstream.DecodeEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != upstream.KindChat {
		t.Errorf("Kind = %v, want chat", ev.Kind)
	}
	if ev.User.Nickname != "小明" || ev.User.ID != 7 || ev.User.Gender != 1 {
		t.Errorf("User = %+v", ev.User)
	}
	if ev.Content != "你好" {
		t.Errorf("Content = %q, want 你好", ev.Content)
	}
	if ev.RoomName != "主播" {
		t.Errorf("RoomName = %q, want 主播", ev.RoomName)
	}
}

func TestDecodeEnvelope_OnwerSpellingAccepted(t *testing.T) {
	t.Parallel()
	raw := `{"Type":1,"Data":"{\"User\":{\"Nickname\":\"A\"},\"Content\":\"hi\",\"Onwer\":{\"Nickname\":\"房主\"}}"}`
	ev, err := upstream.DecodeEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.RoomName != "房主" {
		t.Errorf("RoomName = %q, want 房主 (from Onwer alias)", ev.RoomName)
	}
}

func TestDecodeEnvelope_StringOwnerTreatedAsAbsent(t *testing.T) {
	t.Parallel()
	raw := `{"Type":1,"Data":"{\"User\":{\"Nickname\":\"A\"},\"Content\":\"hi\",\"Owner\":\"some-string\"}"}`
	ev, err := upstream.DecodeEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.RoomName != "" {
		t.Errorf("RoomName = %q, want empty for non-object owner", ev.RoomName)
	}
}

func TestDecodeEnvelope_KindMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		typ  int
		data string
		want upstream.Kind
	}{
		{2, `{\"User\":{\"Nickname\":\"A\"},\"Count\":3,\"Total\":50}`, upstream.KindLike},
		{3, `{\"User\":{\"Nickname\":\"A\"},\"CurrentCount\":10}`, upstream.KindEnter},
		{4, `{\"User\":{\"Nickname\":\"A\"}}`, upstream.KindFollow},
		{5, `{\"User\":{\"Nickname\":\"A\"},\"GiftName\":\"玫瑰\",\"GiftCount\":2,\"DiamondCount\":10}`, upstream.KindGift},
		{6, `{\"OnlineUserCountStr\":\"123\",\"TotalUserCountStr\":\"4.5\"}`, upstream.KindStats},
		{7, `{\"User\":{\"Nickname\":\"A\"},\"FansClubName\":\"后援会\"}`, upstream.KindFansclub},
		{8, `{\"User\":{\"Nickname\":\"A\"}}`, upstream.KindShare},
	}
	for _, tc := range cases {
		raw := `{"Type":` + itoa(tc.typ) + `,"Data":"` + tc.data + `"}`
		ev, err := upstream.DecodeEnvelope([]byte(raw))
		if err != nil {
			t.Fatalf("type %d: unexpected error: %v", tc.typ, err)
		}
		if ev.Kind != tc.want {
			t.Errorf("type %d: Kind = %v, want %v", tc.typ, ev.Kind, tc.want)
		}
	}
}

func itoa(n int) string {
	return string(rune('0' + n))
}

func TestDecodeEnvelope_GiftFields(t *testing.T) {
	t.Parallel()
	raw := `{"Type":5,"Data":"{\"User\":{\"Nickname\":\"夜猫子\"},\"GiftName\":\"小心心\",\"GiftCount\":3,\"DiamondCount\":99}"}`
	ev, err := upstream.DecodeEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.GiftName != "小心心" || ev.GiftCount != 3 || ev.DiamondCount != 99 {
		t.Errorf("gift fields = %q/%d/%d", ev.GiftName, ev.GiftCount, ev.DiamondCount)
	}
}

func TestDecodeEnvelope_LiveEndWithoutData(t *testing.T) {
	t.Parallel()
	ev, err := upstream.DecodeEnvelope([]byte(`{"Type":9}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != upstream.KindLiveEnd {
		t.Errorf("Kind = %v, want live_end", ev.Kind)
	}
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"not json":           `{{{`,
		"missing type":       `{"Data":"{}"}`,
		"missing data":       `{"Type":1}`,
		"data not json":      `{"Type":1,"Data":"not-json"}`,
	}
	for name, raw := range cases {
		if _, err := upstream.DecodeEnvelope([]byte(raw)); err == nil {
			t.Errorf("%s: expected error, got nil", name)
		}
	}
}
