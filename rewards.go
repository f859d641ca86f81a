package main

// xpPerLevel is the fixed level width: level n covers [(n-1)*500, n*500).
const xpPerLevel = 500

func levelForXP(xp int) int {
	return xp/xpPerLevel + 1
}

// awardXP credits the global per-user ledger, distinct from the district
// scoring ledger. Reports whether the user crossed a level boundary.
func awardXP(q execQuerier, userID, xpAmount, coinAmount int) (leveledUp bool, err error) {
	var xp, level int
	if err := q.QueryRow("SELECT xp, level FROM users WHERE id = ?", userID).Scan(&xp, &level); err != nil {
		return false, err
	}

	newXP := xp + xpAmount
	newLevel := levelForXP(newXP)

	if _, err := q.Exec(`
		UPDATE users
		SET xp = ?, level = ?, coins = coins + ?
		WHERE id = ?
	`, newXP, newLevel, coinAmount, userID); err != nil {
		return false, err
	}

	return newLevel > level, nil
}
