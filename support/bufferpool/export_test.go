// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package bufferpool

// NumClasses is numClasses, for tests.
const NumClasses = numClasses

// Class is class, for tests.
var Class = class

// Released returns true if b has been returned to its pool.
func Released(b *Buffer) bool { return b.pool == nil }
