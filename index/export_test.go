// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package index

// FileHeader is fileHeader, for tests building index files by hand.
type FileHeader = fileHeader

// EntryV10Size is entryV10Size, for tests.
const EntryV10Size = entryV10Size
