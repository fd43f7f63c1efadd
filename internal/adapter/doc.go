// Copyright 2021 FerretDB Inc.
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

// Package adapter provides the contract a storage backend implements
// to plug into the generic typed query and mapping layer (the caller).
//
// # Design principles
//
//  1. Adapters compile queries into their own opaque Prepared values and CacheToken handles.
//     The caller never inspects them; it only forwards them.
//  2. Cache storage is owned by the caller (see querycache package).
//     The adapter only manufactures tokens and hands them over through a registration callback.
//  3. Recoverable outcomes (Invalid, Stale, CoercionFailure) are returned as *Error values
//     with the corresponding code. They are never wrapped.
//     All other errors are fatal and should be wrapped with lazyerrors.
//  4. All adapter methods may be called concurrently.
//     The contract itself holds no mutable state.
//  5. The contract wrapper (see AdapterContract) performs input validation, identifier autogeneration,
//     registration bookkeeping, and checks adapter results in debug builds,
//     so adapters implement only the backend-specific parts.
//
// All adapter constructors must return the adapter wrapped with AdapterContract.
// The caller should not use that function.
package adapter
