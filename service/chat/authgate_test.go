package chat

import (
	"testing"

	usermodel "PChat/module/user/model"
	"PChat/tools/security"
)

func TestAuthorizePermissionMatrix(t *testing.T) {
	g := &Gate{}

	cases := []struct {
		name     string
		claims   *security.Claims
		required []string
		want     bool
	}{
		{
			name:     "nil claims fail",
			claims:   nil,
			required: []string{PermWebSocket},
			want:     false,
		},
		{
			name:     "admin role passes any requirement",
			claims:   &security.Claims{Role: usermodel.RoleAdmin},
			required: []string{PermWebSocket, PermAdminBroadcast},
			want:     true,
		},
		{
			name:     "exact permission passes",
			claims:   &security.Claims{Permissions: []string{PermWebSocket}},
			required: []string{PermWebSocket},
			want:     true,
		},
		{
			name:     "missing permission fails",
			claims:   &security.Claims{Permissions: []string{PermSendMessages}},
			required: []string{PermWebSocket},
			want:     false,
		},
		{
			name:     "one absent requirement fails the set",
			claims:   &security.Claims{Permissions: []string{PermWebSocket, PermJoinChats}},
			required: []string{PermWebSocket, PermSendMessages},
			want:     false,
		},
		{
			name:     "superset of requirements passes",
			claims:   &security.Claims{Permissions: []string{PermWebSocket, PermSendMessages, PermJoinChats}},
			required: []string{PermWebSocket, PermSendMessages},
			want:     true,
		},
		{
			name:     "no requirements pass for any verified claims",
			claims:   &security.Claims{},
			required: nil,
			want:     true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := g.Authorize(tc.claims, tc.required...); got != tc.want {
				t.Fatalf("Authorize(required=%v) = %v, want %v", tc.required, got, tc.want)
			}
		})
	}
}
