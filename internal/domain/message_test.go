package domain

import (
	"testing"
	"time"
)

func TestEscapeMarkdownV2(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", ""},
		{"Plain", "Plain"},
		{"Re:Zero - Season 3", `Re:Zero \- Season 3`},
		{"Oshi no Ko (2nd) v2.0!", `Oshi no Ko \(2nd\) v2\.0\!`},
		{"a_b*c[d]~e`f>g#h+i=j|k{l}", `a\_b\*c\[d\]\~e\` + "`" + `f\>g\#h\+i\=j\|k\{l\}`},
		{`back\slash`, `back\\slash`},
	}
	for _, c := range cases {
		if got := EscapeMarkdownV2(c.in); got != c.want {
			t.Fatalf("escape(%q): want %q, got %q", c.in, c.want, got)
		}
	}
}

func TestNotificationText(t *testing.T) {
	task := AiringTask{Title: "Dr. Stone", URL: "https://anilist.co/anime/1", Episode: 6}
	want := "📢 Episode *6* of [Dr\\. Stone](https://anilist.co/anime/1) is out\\!"
	if got := NotificationText(task); got != want {
		t.Fatalf("want %q, got %q", want, got)
	}

	task.URL = ""
	want = "📢 Episode *6* of *Dr\\. Stone* is out\\!"
	if got := NotificationText(task); got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestBuildToday(t *testing.T) {
	now := time.Unix(1000, 0)
	entries := []DailyScheduleEntry{
		{ShowID: 2, Title: "Later", AiringAt: 2000},
		{ShowID: 1, Title: "Earlier", AiringAt: 500},
	}
	items := BuildToday(entries, now)
	if len(items) != 2 {
		t.Fatalf("want 2 items, got %d", len(items))
	}
	if items[0].ShowID != 1 || !items[0].Aired {
		t.Fatalf("first item should be the aired one: %+v", items[0])
	}
	if items[1].ShowID != 2 || items[1].Aired {
		t.Fatalf("second item should be pending: %+v", items[1])
	}
	if entries[0].ShowID != 2 {
		t.Fatalf("input reordered")
	}
}
