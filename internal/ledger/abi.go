package ledger

// studyFundABI is the subset of the StudyFund contract this service calls.
const studyFundABI = `[
  {"type":"function","name":"currentRaffleId","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"raffles","stateMutability":"view",
   "inputs":[{"name":"","type":"uint256"}],
   "outputs":[
     {"name":"startTime","type":"uint256"},
     {"name":"endTime","type":"uint256"},
     {"name":"prizePool","type":"uint256"},
     {"name":"donations","type":"uint256"},
     {"name":"completed","type":"bool"},
     {"name":"requestId","type":"uint256"}]},
  {"type":"function","name":"raffleTotalEntries","stateMutability":"view",
   "inputs":[{"name":"","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"selectWinners","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"getRaffleWinners","stateMutability":"view",
   "inputs":[{"name":"","type":"uint256"}],
   "outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"getRaffleRunnerUps","stateMutability":"view",
   "inputs":[{"name":"","type":"uint256"}],
   "outputs":[{"name":"","type":"address[]"}]},
  {"type":"event","name":"RaffleCompleted","anonymous":false,
   "inputs":[
     {"name":"raffleId","type":"uint256","indexed":true},
     {"name":"winners","type":"address[]","indexed":false},
     {"name":"prizes","type":"uint256[]","indexed":false}]}
]`

const (
	methodCurrentRound = "currentRaffleId"
	methodRound        = "raffles"
	methodEntryCount   = "raffleTotalEntries"
	methodSettle       = "selectWinners"
	methodWinners      = "getRaffleWinners"
	methodRunnerUps    = "getRaffleRunnerUps"
)
