package checkout

import "sync"

// userLocker сериализует мутации checkout-сессии одного пользователя внутри
// процесса: двойной submit OTP из двух вкладок не должен дать два коммита.
// Записи считаются по держателям и удаляются, когда последний отпускает
// блокировку, поэтому карта не растёт с числом пользователей за всю жизнь
// процесса.
type userLocker struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// lock блокирует пользователя и возвращает функцию освобождения.
func (l *userLocker) lock(userID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*userLock)
	}
	entry, ok := l.locks[userID]
	if !ok {
		entry = &userLock{}
		l.locks[userID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

// held возвращает число пользователей с активной или ожидаемой блокировкой.
func (l *userLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
