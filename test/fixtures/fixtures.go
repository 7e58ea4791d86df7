package fixtures

import (
	"time"

	"github.com/zawadi/giving-gateway/internal/model"
)

var (
	TestMemberWanjiku = model.Member{
		ID:          1,
		FirstName:   "Wanjiku",
		LastName:    "Kamau",
		PhoneNumber: "254712345678",
		IsActive:    true,
	}

	TestMemberAkinyi = model.Member{
		ID:          2,
		FirstName:   "Akinyi",
		LastName:    "Odhiambo",
		PhoneNumber: "254723456789",
		IsActive:    true,
	}

	TestGuestMember = model.Member{
		ID:          3,
		FirstName:   "Guest",
		LastName:    "Member",
		PhoneNumber: "254734567890",
		IsGuest:     true,
		IsActive:    true,
	}
)

var (
	TestCategoryTithe = model.ContributionCategory{
		ID:       1,
		Name:     "Tithe",
		Code:     "TITHE",
		IsActive: true,
	}

	TestCategoryOffering = model.ContributionCategory{
		ID:       2,
		Name:     "Offering",
		Code:     "OFFERING",
		IsActive: true,
	}

	TestCategoryRetired = model.ContributionCategory{
		ID:       3,
		Name:     "Harvest 2019",
		Code:     "HARVEST19",
		IsActive: false,
	}
)

func NewContributionRequest(phoneNumber string, entryType model.EntryType, entries ...model.ContributionEntry) model.ContributionCreateRequest {
	return model.ContributionCreateRequest{
		PhoneNumber: phoneNumber,
		Entries:     entries,
		EntryType:   entryType,
	}
}

func MpesaTitheRequest(amountCents int64) model.ContributionCreateRequest {
	return NewContributionRequest("0712345678", model.EntryTypeMpesa,
		model.ContributionEntry{CategoryCode: "TITHE", AmountCents: amountCents})
}

func CashOfferingRequest(amountCents int64) model.ContributionCreateRequest {
	return NewContributionRequest("0712345678", model.EntryTypeCash,
		model.ContributionEntry{CategoryCode: "OFFERING", AmountCents: amountCents})
}

func MultiCategoryRequest(titheCents, offeringCents int64) model.ContributionCreateRequest {
	return NewContributionRequest("0712345678", model.EntryTypeMpesa,
		model.ContributionEntry{CategoryCode: "TITHE", AmountCents: titheCents},
		model.ContributionEntry{CategoryCode: "OFFERING", AmountCents: offeringCents})
}

var (
	ValidPhoneNumbers = []string{
		"0712345678",
		"254712345678",
		"+254712345678",
		"0110123456",
	}

	InvalidPhoneNumbers = []string{
		"",
		"123",
		"invalid",
		"+1234567890",
		"07123",
	}
)

func FilterByMember(memberID int64) model.ContributionFilter {
	return model.ContributionFilter{
		MemberID: &memberID,
		Limit:    50,
		Offset:   0,
	}
}

func FilterByTimeRange(memberID int64, from, to time.Time) model.ContributionFilter {
	return model.ContributionFilter{
		MemberID: &memberID,
		From:     &from,
		To:       &to,
		Limit:    50,
		Offset:   0,
	}
}
