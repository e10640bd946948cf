package userpath

import (
	"strings"
	"testing"

	"github.com/GemeenteUtrecht/dowc/internal/domain/constants"
)

func TestParentFolder_Deterministic(t *testing.T) {
	a := ParentFolder("secret", "alice")
	b := ParentFolder("secret", "alice")
	if a != b {
		t.Errorf("Повторный вызов дал другой путь: %q != %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("Длина папки: хотели 16, получили %d (%q)", len(a), a)
	}
}

func TestParentFolder_DistinctUsers(t *testing.T) {
	seen := map[string]string{}
	for _, user := range []string{"alice", "bob", "carol", "dave", "erin", "frank"} {
		folder := ParentFolder("secret", user)
		if prev, ok := seen[folder]; ok {
			t.Fatalf("Коллизия папок: %q и %q → %q", prev, user, folder)
		}
		seen[folder] = user
	}
}

func TestParentFolder_SecretKeyed(t *testing.T) {
	if ParentFolder("secret-1", "alice") == ParentFolder("secret-2", "alice") {
		t.Error("Папка не зависит от секрета")
	}
}

func TestFolder_Subfolders(t *testing.T) {
	pub := Folder("secret", "alice", constants.SubfolderPublic)
	prot := Folder("secret", "alice", constants.SubfolderProtected)

	if !strings.HasSuffix(pub, "/public") {
		t.Errorf("Public-папка без суффикса /public: %q", pub)
	}
	if !strings.HasSuffix(prot, "/protected") {
		t.Errorf("Protected-папка без суффикса /protected: %q", prot)
	}
	if strings.TrimSuffix(pub, "/public") != strings.TrimSuffix(prot, "/protected") {
		t.Error("Public и protected не в одной родительской папке")
	}
}

func TestIsOwnedPublicPath(t *testing.T) {
	pathAlice := FilePath("secret", "alice", constants.SubfolderPublic, "report.docx")

	if !IsOwnedPublicPath("secret", "alice", pathAlice) {
		t.Error("Собственный public-путь отклонён")
	}
	if IsOwnedPublicPath("secret", "bob", pathAlice) {
		t.Error("Чужой public-путь принят")
	}

	pathProtected := FilePath("secret", "alice", constants.SubfolderProtected, "report.docx")
	if IsOwnedPublicPath("secret", "alice", pathProtected) {
		t.Error("Protected-путь принят как public")
	}
}
