// Copyright 2023 The Fakefs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

package fsop

import (
	"fmt"
	"strconv"
	"strings"
)

// ownerRecord is the payload stored under the override xattr: the ownership
// the traced process believes the file has, encoded as "uid:gid".
type ownerRecord struct {
	UID int
	GID int
}

func parseOwnerRecord(b []byte) (*ownerRecord, error) {
	u, g, ok := strings.Cut(string(b), ":")
	if !ok {
		return nil, fmt.Errorf("malformed override record %q", b)
	}
	uid, err := strconv.Atoi(u)
	if err != nil {
		return nil, fmt.Errorf("malformed override record %q: bad uid", b)
	}
	gid, err := strconv.Atoi(g)
	if err != nil {
		return nil, fmt.Errorf("malformed override record %q: bad gid", b)
	}
	return &ownerRecord{UID: uid, GID: gid}, nil
}

func (r *ownerRecord) Marshal() []byte {
	return []byte(fmt.Sprintf("%d:%d", r.UID, r.GID))
}
