package models

import (
	"testing"

	"github.com/google/uuid"
)

func TestSetOwnerFillsExactlyOneColumn(t *testing.T) {
	id := uuid.New()
	var f UploadedFile

	if err := f.SetOwner(Principal{UserID: id, Role: RoleTeacher}); err != nil {
		t.Fatalf("teacher: %v", err)
	}
	if f.TeacherID == nil || *f.TeacherID != id || f.StudentID != nil {
		t.Fatalf("teacher owner not set correctly: %+v", f)
	}

	if err := f.SetOwner(Principal{UserID: id, Role: RoleStudent}); err != nil {
		t.Fatalf("student: %v", err)
	}
	if f.StudentID == nil || f.TeacherID != nil {
		t.Fatalf("switching owner should clear teacher: %+v", f)
	}

	if err := f.SetOwner(Principal{UserID: id, Role: RoleAdmin}); err != ErrRoleNotAllowed {
		t.Fatalf("admin: got %v", err)
	}
}

func TestBeforeCreateRejectsAmbiguousOwner(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	if err := (&UploadedFile{}).BeforeCreate(nil); err != ErrOwnerAmbiguous {
		t.Fatalf("no owner: got %v", err)
	}
	if err := (&UploadedFile{TeacherID: &a, StudentID: &b}).BeforeCreate(nil); err != ErrOwnerAmbiguous {
		t.Fatalf("two owners: got %v", err)
	}
	f := &UploadedFile{StudentID: &a}
	if err := f.BeforeCreate(nil); err != nil || f.ID == uuid.Nil {
		t.Fatalf("valid row: err=%v id=%v", err, f.ID)
	}
}

func TestOwnedByAndPrefix(t *testing.T) {
	owner := Principal{UserID: uuid.New(), Role: RoleStudent}
	other := Principal{UserID: uuid.New(), Role: RoleStudent}
	sameIDTeacher := Principal{UserID: owner.UserID, Role: RoleTeacher}

	var f UploadedFile
	_ = f.SetOwner(owner)
	if !f.OwnedBy(owner) || f.OwnedBy(other) || f.OwnedBy(sameIDTeacher) {
		t.Fatalf("ownership check wrong")
	}
	if got := owner.StoragePrefix(); got != "student_"+owner.UserID.String() {
		t.Fatalf("prefix = %q", got)
	}
	if got := (Principal{}).StoragePrefix(); got != "anonymous" {
		t.Fatalf("anonymous prefix = %q", got)
	}
	if !ProcessingStatus("failed").Terminal() || StatusProcessing.Terminal() {
		t.Fatalf("terminal status check wrong")
	}
}
