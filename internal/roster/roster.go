// Package roster manages class enrollment. PII fields on user documents
// (name, email) are stored encrypted when a cipher is configured and are
// always read through SafeDecrypt so a corrupt token degrades one row,
// never the listing.
package roster

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/coursekit/coursekit-lms/internal/docstore"
	"github.com/coursekit/coursekit-lms/internal/lms"
	"github.com/coursekit/coursekit-lms/internal/pii"
)

type Service struct {
	store  docstore.Store
	cipher *pii.Cipher // nil: PII stored in the clear
	log    *slog.Logger
}

func NewService(store docstore.Store, cipher *pii.Cipher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cipher: cipher, log: logger}
}

func classPath(classID string) string { return lms.CollClasses + "/" + classID }

// Enroll adds a student to a class roster. Transactional and idempotent:
// the membership check re-reads inside the transaction, so concurrent
// enrolls of the same student resolve to a single entry.
func (s *Service) Enroll(ctx context.Context, classID, studentID string) error {
	if classID == "" || studentID == "" {
		return &lms.ValidationError{Reason: "classId and studentId are required"}
	}
	return s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		doc, err := tx.Get(ctx, classPath(classID))
		if errors.Is(err, docstore.ErrNotFound) {
			return lms.ErrNotFound
		}
		if err != nil {
			return err
		}
		students := fieldStrings(doc.Fields, "students")
		for _, id := range students {
			if id == studentID {
				return nil
			}
		}
		return tx.Update(ctx, classPath(classID), docstore.Fields{
			"students": append(students, studentID),
		})
	})
}

// Unenroll removes a student from a class roster; enrollment is the ratchet
// direction, so removal is a plain transactional rewrite.
func (s *Service) Unenroll(ctx context.Context, classID, studentID string) error {
	return s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		doc, err := tx.Get(ctx, classPath(classID))
		if errors.Is(err, docstore.ErrNotFound) {
			return lms.ErrNotFound
		}
		if err != nil {
			return err
		}
		students := fieldStrings(doc.Fields, "students")
		next := make([]string, 0, len(students))
		for _, id := range students {
			if id != studentID {
				next = append(next, id)
			}
		}
		if len(next) == len(students) {
			return nil
		}
		return tx.Update(ctx, classPath(classID), docstore.Fields{"students": next})
	})
}

type Member struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// List resolves the roster to member rows, decrypting PII best-effort.
func (s *Service) List(ctx context.Context, classID string) ([]Member, error) {
	doc, err := s.store.Get(ctx, classPath(classID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, lms.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var out []Member
	for _, sid := range fieldStrings(doc.Fields, "students") {
		m := Member{StudentID: sid}
		userDoc, err := s.store.Get(ctx, lms.UserPath(sid))
		if err != nil {
			s.log.Warn("roster user missing", "student", sid, "class", classID)
			out = append(out, m)
			continue
		}
		m.Name = s.safeField(userDoc.Fields, "name", "Student")
		m.Email = s.safeField(userDoc.Fields, "email", "")
		out = append(out, m)
	}
	return out, nil
}

func (s *Service) safeField(f docstore.Fields, key, fallback string) string {
	v, _ := docstore.FieldAt(f, key)
	str, _ := v.(string)
	if str == "" {
		return fallback
	}
	if s.cipher == nil {
		return str
	}
	return s.cipher.SafeDecrypt(str, fallback)
}

type ImportResult struct {
	Enrolled int `json:"enrolled"`
	Upserted int `json:"upserted"`
}

// ImportCSV bulk-enrolls students from a CSV with header columns
// id,name,email. User documents are merge-upserted with encrypted PII,
// then each id is enrolled through the same transactional path as single
// enrollment.
func (s *Service) ImportCSV(ctx context.Context, classID string, r io.Reader) (ImportResult, error) {
	var res ImportResult
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	hdr, err := cr.Read()
	if err != nil {
		return res, &lms.ValidationError{Reason: "empty csv"}
	}
	idx := map[string]int{}
	for i, h := range hdr {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx["id"]; !ok {
		return res, &lms.ValidationError{Reason: "missing column: id"}
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, &lms.ValidationError{Reason: "bad csv: " + err.Error()}
		}
		sid := strings.TrimSpace(rec[idx["id"]])
		if sid == "" {
			continue
		}
		fields := docstore.Fields{"role": "student"}
		if i, ok := idx["name"]; ok && i < len(rec) {
			fields["name"] = s.encryptField(rec[i])
		}
		if i, ok := idx["email"]; ok && i < len(rec) {
			fields["email"] = s.encryptField(rec[i])
		}
		if err := s.store.Set(ctx, lms.UserPath(sid), fields, true); err != nil {
			return res, err
		}
		res.Upserted++
		if err := s.Enroll(ctx, classID, sid); err != nil {
			return res, err
		}
		res.Enrolled++
	}
	return res, nil
}

func (s *Service) encryptField(plain string) string {
	plain = strings.TrimSpace(plain)
	if s.cipher == nil || plain == "" {
		return plain
	}
	tok, err := s.cipher.Encrypt(plain)
	if err != nil {
		s.log.Warn("pii encrypt failed; storing plaintext", "err", err)
		return plain
	}
	return tok
}

func fieldStrings(f docstore.Fields, key string) []string {
	v, ok := docstore.FieldAt(f, key)
	if !ok {
		return nil
	}
	switch sv := v.(type) {
	case []string:
		return sv
	case []any:
		out := make([]string, 0, len(sv))
		for _, e := range sv {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
