package actions

import (
	"context"

	"github.com/rendis/caseflow/internal/store"
	"github.com/rendis/caseflow/pkg/schema"
)

// resolveRecipients expands a recipient selector into users. Selectors that
// name a single user whose directory row is missing still yield a user with
// only the ID set, so in-app notifications can reach them.
func resolveRecipients(ctx context.Context, st store.Store, selector string, evt *schema.EventContext) ([]*store.User, error) {
	switch selector {
	case "":
		return nil, nil
	case schema.RecipientCaseTeam:
		if evt.CaseID == "" {
			return nil, nil
		}
		users, err := st.ListCaseTeam(ctx, evt.FirmID, evt.CaseID)
		return users, storeFailure(err, "list case team")
	case schema.RecipientFirmAdmins:
		users, err := st.ListFirmAdmins(ctx, evt.FirmID)
		return users, storeFailure(err, "list firm admins")
	case schema.RecipientAssignedUser:
		return lookupUser(ctx, st, evt.UserID)
	default:
		return lookupUser(ctx, st, selector)
	}
}

func lookupUser(ctx context.Context, st store.Store, id string) ([]*store.User, error) {
	if id == "" {
		return nil, nil
	}
	u, err := st.GetUser(ctx, id)
	if schema.IsNotFound(err) {
		return []*store.User{{ID: id}}, nil
	}
	if err != nil {
		return nil, storeFailure(err, "get user")
	}
	return []*store.User{u}, nil
}

// contactList maps users to one contact field plus literal addresses,
// dropping blanks and duplicates while keeping first-seen order. It returns
// the IDs of users that had no usable contact.
func contactList(users []*store.User, literal []string, field func(*store.User) string) (contacts []string, missing []string) {
	seen := make(map[string]struct{})
	add := func(c string) {
		if c == "" {
			return
		}
		if _, dup := seen[c]; dup {
			return
		}
		seen[c] = struct{}{}
		contacts = append(contacts, c)
	}
	for _, u := range users {
		c := field(u)
		if c == "" {
			missing = append(missing, u.ID)
			continue
		}
		add(c)
	}
	for _, c := range literal {
		add(c)
	}
	return contacts, missing
}

func userEmail(u *store.User) string { return u.Email }
func userPhone(u *store.User) string { return u.Phone }
