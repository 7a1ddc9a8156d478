package flow

import "testing"

func TestParseAction(t *testing.T) {
	cases := []struct {
		token string
		want  Action
	}{
		{"category:idea", Action{Kind: ActionSelectCategory, Value: "idea"}},
		{"topic:salary", Action{Kind: ActionSelectTopic, Value: "salary"}},
		{"confirm:send", Action{Kind: ActionConfirmSend}},
		{"confirm:cancel", Action{Kind: ActionConfirmCancel}},
		{"review:send", Action{Kind: ActionReviewSend}},
		{"review:rewrite", Action{Kind: ActionReviewRewrite}},
		{" category:idea ", Action{Kind: ActionSelectCategory, Value: "idea"}},
		{"category:", Action{Kind: ActionUnknown, Value: "category:"}},
		{"confirm:maybe", Action{Kind: ActionUnknown, Value: "confirm:maybe"}},
		{"garbage", Action{Kind: ActionUnknown, Value: "garbage"}},
		{"", Action{Kind: ActionUnknown, Value: ""}},
	}
	for _, tc := range cases {
		if got := ParseAction(tc.token); got != tc.want {
			t.Errorf("ParseAction(%q) = %+v, want %+v", tc.token, got, tc.want)
		}
	}
}
